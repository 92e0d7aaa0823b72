package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobchat/internal/broker"
	"github.com/jobchat/internal/config"
	"github.com/jobchat/internal/fileserver"
	"github.com/jobchat/internal/metrics"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/push"
	"github.com/jobchat/internal/service"
	"github.com/jobchat/internal/storage/memory"
	"github.com/jobchat/internal/ws"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		APIPrefix:          "/api/admin",
		MaxUploadSize:      1 << 20,
		RateLimitIP:        10000,
		RateLimitUser:      10000,
		CORSAllowedOrigins: "*",
	}
	store := memory.NewStore()
	kv := memory.New()
	m := metrics.New()
	events := broker.NewLocal()
	files := fileserver.NewLocal(t.TempDir(), FilesPath(cfg))
	chats := service.NewChatService(service.Deps{
		Chats:    store.Chats(),
		Posts:    store.Posts(),
		Markers:  store.Markers(),
		Users:    store.Users(),
		Events:   events,
		Uploader: files,
		Metrics:  m,
	})
	hub := ws.NewHub(store.Chats(), 100, ws.Settings{}, m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	require.NoError(t, events.Subscribe(ctx, hub.Broadcast))

	srv := httptest.NewServer(NewRouter(cfg, Deps{
		Chats:   chats,
		Auth:    service.NewAuthService(store.Users(), kv, time.Hour),
		Hub:     hub,
		Push:    push.NewNotifier(kv, nil, "", m),
		Files:   files,
		Metrics: m,
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, t: t}
}

func (s *testServer) login(userID int64) string {
	s.t.Helper()
	var sess model.Session
	code := s.do(http.MethodPost, "/auth/login", "", model.LoginRequest{UserID: userID, FirstName: "U"}, &sess)
	require.Equal(s.t, http.StatusOK, code)
	return sess.Token
}

func (s *testServer) do(method, path, token string, body, out any) int {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+"/api/admin"+path, r)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func prospect(candidateID int64) model.CreateChatRequest {
	return model.CreateChatRequest{Type: model.ChatTypeCandidateProspect, CandidateID: model.ID(candidateID)}
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/chat", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/chat", "bogus", nil, nil))
}

func TestChatLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(1)
	bob := s.login(2)

	var cp *model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/chat/77/get-cp-chat", alice, nil, &cp))
	assert.Nil(t, cp)

	var chat model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/chat/get-or-create", alice, prospect(77), &chat))
	var again model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/chat/get-or-create", bob, prospect(77), &again))
	assert.Equal(t, chat.ID, again.ID)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/chat/77/get-cp-chat", alice, nil, &cp))
	require.NotNil(t, cp)
	assert.Equal(t, chat.ID, cp.ID)

	var post model.Post
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, pathf("/chat/%d/post", chat.ID), alice, model.PostRequest{Content: "hello"}, &post))
	assert.Equal(t, int64(1), post.AuthorID())

	var info model.ChatUserInfo
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, pathf("/chat/%d/user/2/get-chat-user-info", chat.ID), bob, nil, &info))
	assert.False(t, info.IsRead())
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, pathf("/chat/%d/user/1/get-chat-user-info", chat.ID), bob, nil, &info))
	assert.True(t, info.IsRead(), "own post keeps the chat read")

	var unread struct {
		NumberUnreadChats int `json:"numberUnreadChats"`
	}
	carol := s.login(3)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/chat/check-unread", carol, nil, &unread))
	assert.Equal(t, 1, unread.NumberUnreadChats, "never opened chat with posts is unread")

	var marked struct {
		LastReadPostID *int64 `json:"lastReadPostId"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, pathf("/chat/%d/post/0/read", chat.ID), bob, nil, &marked))
	require.NotNil(t, marked.LastReadPostID)
	assert.Equal(t, post.ID, *marked.LastReadPostID)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/chat/check-unread", bob, nil, &unread))
	assert.Equal(t, 0, unread.NumberUnreadChats)

	var posts []model.Post
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, pathf("/chat/%d/post", chat.ID), bob, nil, &posts))
	assert.Len(t, posts, 1)

	var chats []model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/chat", bob, nil, &chats))
	assert.Len(t, chats, 1)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(1)
	bob := s.login(2)

	var chat model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/chat/get-or-create", alice, prospect(5), &chat))
	var post model.Post
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, pathf("/chat/%d/post", chat.ID), alice, model.PostRequest{Content: "x"}, &post))

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"missing candidate", http.MethodPost, "/chat/get-or-create", alice, model.CreateChatRequest{Type: model.ChatTypeCandidateProspect}, http.StatusBadRequest},
		{"unknown chat", http.MethodGet, "/chat/999/post", alice, nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/chat/abc/post", alice, nil, http.StatusBadRequest},
		{"empty post", http.MethodPost, pathf("/chat/%d/post", chat.ID), alice, model.PostRequest{Content: "  "}, http.StatusBadRequest},
		{"edit by other user", http.MethodPut, pathf("/chat-post/%d", post.ID), bob, model.PostRequest{Content: "y"}, http.StatusForbidden},
		{"edit by author", http.MethodPut, pathf("/chat-post/%d", post.ID), alice, model.PostRequest{Content: "y"}, http.StatusOK},
		{"invalid push subscription", http.MethodPost, "/push/subscribe", alice, map[string]any{"subscription": map[string]string{"endpoint": "x"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(tt.method, tt.path, tt.token, tt.body, nil))
		})
	}
}

func TestUploadAndServe(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(1)
	var chat model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/chat/get-or-create", alice, prospect(9), &chat))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("interview notes"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL+pathf("/api/admin/chat/%d/upload", chat.ID), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Post       model.Post            `json:"post"`
		Attachment fileserver.Attachment `json:"attachment"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Post.Content, out.Attachment.URL)

	got, err := http.Get(s.URL + out.Attachment.URL)
	require.NoError(t, err)
	defer got.Body.Close()
	body, _ := io.ReadAll(got.Body)
	assert.Equal(t, "interview notes", string(body))
}

func TestWebSocketReceivesReadEvent(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(1)
	bob := s.login(2)
	var chat model.Chat
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/chat/get-or-create", alice, prospect(3), &chat))
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, pathf("/chat/%d/post", chat.ID), alice, model.PostRequest{Content: "hi"}, nil))

	url := "ws" + strings.TrimPrefix(s.URL, "http") + WebSocketPath + "?access_token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Type: ws.TypeSubscribe, ChatID: chat.ID}))
	var ack ws.OutgoingMessage
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, ws.TypeSubscribed, ack.Type)

	require.Equal(t, http.StatusOK, s.do(http.MethodPut, pathf("/chat/%d/post/0/read", chat.ID), bob, nil, nil))

	var frame struct {
		Type    ws.MessageType    `json:"type"`
		ChatID  int64             `json:"chatId"`
		Payload model.ReadPayload `json:"payload"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, ws.TypeRead, frame.Type)
	assert.Equal(t, chat.ID, frame.ChatID)
	assert.Equal(t, int64(2), frame.Payload.UserID)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "jobchat_http_requests_total")
}
