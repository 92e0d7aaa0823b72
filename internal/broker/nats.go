package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
)

// NATS fans events out on one subject per chat.
type NATS struct {
	conn *nats.Conn
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("jobchat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Errorf("broker: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("broker: nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (b *NATS) Publish(ctx context.Context, ev model.ChatEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(NATSSubject(ev.ChatID), data)
}

func (b *NATS) Subscribe(ctx context.Context, h Handler) error {
	sub, err := b.conn.Subscribe(natsSubjectPrefix+"*", func(msg *nats.Msg) {
		ev, err := decode(msg.Subject, natsSubjectPrefix, msg.Data)
		if err != nil {
			logger.Errorf("%v", err)
			return
		}
		h(ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NATS) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
