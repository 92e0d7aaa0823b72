package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
)

// Redis fans events out through Redis pub/sub, one channel per chat.
type Redis struct {
	cli *redis.Client
}

// NewRedis uses cli without taking ownership; Close does not close it.
func NewRedis(cli *redis.Client) *Redis {
	return &Redis{cli: cli}
}

func (b *Redis) Publish(ctx context.Context, ev model.ChatEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, RedisChannel(ev.ChatID), data).Err()
}

// Subscribe starts one pattern subscriber that reconnects with backoff.
func (b *Redis) Subscribe(ctx context.Context, h Handler) error {
	pubsub := b.cli.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go b.run(ctx, pubsub, h)
	return nil
}

func (b *Redis) run(ctx context.Context, pubsub *redis.PubSub, h Handler) {
	backoff := time.Second
	for {
		b.receive(ctx, pubsub, h)
		_ = pubsub.Close()
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
		pubsub = b.cli.PSubscribe(ctx, redisChannelPrefix+"*")
		logger.Info("broker: redis subscriber restarted")
	}
}

func (b *Redis) receive(ctx context.Context, pubsub *redis.PubSub, h Handler) {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Errorf("broker: redis receive: %v", err)
			}
			return
		}
		ev, err := decode(msg.Channel, redisChannelPrefix, []byte(msg.Payload))
		if err != nil {
			logger.Errorf("%v", err)
			continue
		}
		h(ev)
	}
}

func (b *Redis) Close() error { return nil }
