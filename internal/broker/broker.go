// Package broker carries chat events between backend instances. Every
// instance publishes the events it produces and subscribes to all of them
// so its WebSocket hub can fan them out to local clients.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jobchat/internal/model"
)

// Handler receives every event published on any chat topic. It must not block.
type Handler func(model.ChatEvent)

type Broker interface {
	Publish(ctx context.Context, ev model.ChatEvent) error
	// Subscribe delivers events to h until ctx is done.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

const (
	redisChannelPrefix = "jobchat:chat:"
	natsSubjectPrefix  = "jobchat.chat."
)

// RedisChannel is the pub/sub channel of a chat topic.
func RedisChannel(chatID int64) string {
	return redisChannelPrefix + strconv.FormatInt(chatID, 10)
}

// NATSSubject is the subject of a chat topic.
func NATSSubject(chatID int64) string {
	return natsSubjectPrefix + strconv.FormatInt(chatID, 10)
}

func encode(ev model.ChatEvent) ([]byte, error) {
	if ev.ChatID <= 0 {
		return nil, fmt.Errorf("broker: event without chat id")
	}
	return json.Marshal(ev)
}

// decode parses a payload and checks it against the topic it arrived on.
func decode(topic, prefix string, data []byte) (model.ChatEvent, error) {
	var ev model.ChatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("broker: decode %s: %w", topic, err)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(topic, prefix), 10, 64)
	if err != nil || id != ev.ChatID {
		return ev, fmt.Errorf("broker: topic %s does not match chat %d", topic, ev.ChatID)
	}
	return ev, nil
}
