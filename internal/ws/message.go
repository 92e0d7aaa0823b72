package ws

import "github.com/jobchat/internal/model"

type MessageType string

const (
	// client -> server
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"

	// server -> client
	TypeSubscribed MessageType = "subscribed"
	TypePost       MessageType = "post"
	TypeRead       MessageType = "read"
	TypeError      MessageType = "error"
)

// IncomingMessage — сообщение от клиента серверу.
type IncomingMessage struct {
	Type   MessageType `json:"type"`
	ChatID int64       `json:"chatId"`
}

// OutgoingMessage — сообщение от сервера клиенту. Payload: model.Post для
// "post", model.ReadPayload для "read", строка для "error".
type OutgoingMessage struct {
	Type    MessageType `json:"type"`
	ChatID  int64       `json:"chatId,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

// FromEvent превращает событие брокера в кадр для подписчиков.
func FromEvent(ev model.ChatEvent) (OutgoingMessage, bool) {
	switch ev.Type {
	case model.EventPost:
		if ev.Post == nil {
			return OutgoingMessage{}, false
		}
		return OutgoingMessage{Type: TypePost, ChatID: ev.ChatID, Payload: ev.Post}, true
	case model.EventRead:
		if ev.Read == nil {
			return OutgoingMessage{}, false
		}
		return OutgoingMessage{Type: TypeRead, ChatID: ev.ChatID, Payload: ev.Read}, true
	}
	return OutgoingMessage{}, false
}
