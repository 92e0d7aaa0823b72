package model

type EventType string

const (
	EventPost EventType = "post"
	EventRead EventType = "read"
)

// ChatEvent is published on a chat's topic. Exactly one of Post and Read is set.
type ChatEvent struct {
	Type   EventType    `json:"type"`
	ChatID int64        `json:"chatId"`
	Post   *Post        `json:"post,omitempty"`
	Read   *ReadPayload `json:"read,omitempty"`
}

type ReadPayload struct {
	UserID         int64 `json:"userId"`
	LastReadPostID int64 `json:"lastReadPostId"`
}
