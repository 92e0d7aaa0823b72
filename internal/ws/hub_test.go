package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/repository"
)

type knownChats map[int64]bool

func (k knownChats) GetByID(ctx context.Context, id int64) (*model.Chat, error) {
	if !k[id] {
		return nil, repository.ErrNotFound
	}
	return &model.Chat{ID: id}, nil
}

func startHub(t *testing.T, maxConns int) (*Hub, string) {
	t.Helper()
	hub := NewHub(knownChats{1: true, 2: true}, maxConns, Settings{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, 42)
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func frameType(f map[string]json.RawMessage) string {
	var s string
	_ = json.Unmarshal(f["type"], &s)
	return s
}

func TestSubscribeAndBroadcast(t *testing.T) {
	hub, url := startHub(t, 10)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: TypeSubscribe, ChatID: 1}))
	assert.Equal(t, "subscribed", frameType(readFrame(t, conn)))
	assert.Equal(t, 1, hub.Subscribers(1))

	hub.Broadcast(model.ChatEvent{Type: model.EventPost, ChatID: 2, Post: &model.Post{ID: 8, ChatID: 2}})
	hub.Broadcast(model.ChatEvent{Type: model.EventPost, ChatID: 1, Post: &model.Post{ID: 9, ChatID: 1, Content: "hi"}})

	frame := readFrame(t, conn)
	require.Equal(t, "post", frameType(frame))
	var post model.Post
	require.NoError(t, json.Unmarshal(frame["payload"], &post))
	assert.Equal(t, int64(9), post.ID, "events for other chats are not delivered")

	hub.Broadcast(model.ChatEvent{Type: model.EventRead, ChatID: 1, Read: &model.ReadPayload{UserID: 3, LastReadPostID: 9}})
	frame = readFrame(t, conn)
	require.Equal(t, "read", frameType(frame))
	var read model.ReadPayload
	require.NoError(t, json.Unmarshal(frame["payload"], &read))
	assert.Equal(t, int64(3), read.UserID)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: TypeUnsubscribe, ChatID: 1}))
	assert.Eventually(t, func() bool { return hub.Subscribers(1) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeUnknownChat(t *testing.T) {
	hub, url := startHub(t, 10)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: TypeSubscribe, ChatID: 99}))
	assert.Equal(t, "error", frameType(readFrame(t, conn)))
	assert.Equal(t, 0, hub.Subscribers(99))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, "error", frameType(readFrame(t, conn)))
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	hub, url := startHub(t, 10)
	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: TypeSubscribe, ChatID: 2}))
	readFrame(t, conn)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers(2) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestConnectionLimit(t *testing.T) {
	hub, url := startHub(t, 1)
	first := dial(t, url)
	require.NoError(t, first.WriteJSON(IncomingMessage{Type: TypeSubscribe, ChatID: 1}))
	readFrame(t, first)

	second := dial(t, url)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	assert.Error(t, err, "second connection is closed by the hub")
	assert.Equal(t, 1, hub.Subscribers(1))
}

func TestFromEventRejectsMissingPayload(t *testing.T) {
	_, ok := FromEvent(model.ChatEvent{Type: model.EventPost, ChatID: 1})
	assert.False(t, ok)
	_, ok = FromEvent(model.ChatEvent{Type: "typing", ChatID: 1})
	assert.False(t, ok)
}
