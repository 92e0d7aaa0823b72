// Package chatclient is the client side of the chat: it talks to the chat
// backend over HTTP and WebSocket and turns chat state into read-status
// streams a view can subscribe to.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
)

// ErrUnauthorized is returned for any 401 from the backend, after the
// session has been cleared.
var ErrUnauthorized = errors.New("chatclient: unauthorized")

// APIError is a non-2xx response other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

// API is the backend surface the Service needs.
type API interface {
	GetOrCreate(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error)
	Chats(ctx context.Context) ([]model.Chat, error)
	CandidateProspectChat(ctx context.Context, candidateID int64) (*model.Chat, error)
	UserInfo(ctx context.Context, chatID, userID int64) (*model.ChatUserInfo, error)
	MarkAsRead(ctx context.Context, chatID, postID int64) (*int64, error)
	CheckUnread(ctx context.Context) (int, error)
	Posts(ctx context.Context, chatID int64) ([]model.Post, error)
	CreatePost(ctx context.Context, chatID int64, content string) (*model.Post, error)
	UpdatePost(ctx context.Context, postID int64, content string) (*model.Post, error)
}

// HTTPTransport calls the backend REST API with the session's token.
type HTTPTransport struct {
	base    string
	client  *http.Client
	session *SessionStore

	// OnAuthExpired is called once per expiry with ReturnURL's value, to
	// send the user back to the login page.
	OnAuthExpired func(returnURL string)
	// ReturnURL reports where the user was when the session expired.
	ReturnURL func() string

	mu      sync.Mutex
	expired bool
}

// NewHTTPTransport targets baseURL, which includes the API prefix, e.g.
// http://localhost:8080/api/admin.
func NewHTTPTransport(baseURL string, session *SessionStore) *HTTPTransport {
	return &HTTPTransport{
		base:    strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		session: session,
	}
}

// BaseURL is the URL passed to NewHTTPTransport.
func (t *HTTPTransport) BaseURL() string { return t.base }

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out any) error {
	defer logger.DeferLogDuration("chatclient "+method+" "+path, time.Now())()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := t.session.Token(ctx)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		t.Expire(ctx)
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if token != "" {
		t.mu.Lock()
		t.expired = false
		t.mu.Unlock()
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// Expire clears the session and fires OnAuthExpired, unless this expiry was
// already handled. A later successful authenticated call re-arms it.
func (t *HTTPTransport) Expire(ctx context.Context) {
	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return
	}
	t.expired = true
	t.mu.Unlock()

	if err := t.session.Logout(ctx); err != nil {
		logger.Errorf("chatclient: clear session: %v", err)
	}
	returnURL := ""
	if t.ReturnURL != nil {
		returnURL = t.ReturnURL()
	}
	logger.Info("chatclient: session expired")
	if t.OnAuthExpired != nil {
		t.OnAuthExpired(returnURL)
	}
}

// Login starts a session for userID and stores it.
func (t *HTTPTransport) Login(ctx context.Context, req model.LoginRequest) (*model.Session, error) {
	var sess model.Session
	if err := t.do(ctx, http.MethodPost, "/auth/login", req, &sess); err != nil {
		return nil, err
	}
	if err := t.session.Login(ctx, sess); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.expired = false
	t.mu.Unlock()
	return &sess, nil
}

// Me resolves the stored token to its user and saves it in the session.
func (t *HTTPTransport) Me(ctx context.Context) (*model.UserSummary, error) {
	var u model.UserSummary
	if err := t.do(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	if err := t.session.SetUser(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *HTTPTransport) GetOrCreate(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error) {
	var c model.Chat
	if err := t.do(ctx, http.MethodPost, "/chat/get-or-create", req, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *HTTPTransport) Create(ctx context.Context, req model.CreateChatRequest) (*model.Chat, error) {
	var c model.Chat
	if err := t.do(ctx, http.MethodPost, "/chat", req, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *HTTPTransport) Chats(ctx context.Context) ([]model.Chat, error) {
	var out []model.Chat
	err := t.do(ctx, http.MethodGet, "/chat", nil, &out)
	return out, err
}

// CandidateProspectChat is nil when the candidate has no chat yet.
func (t *HTTPTransport) CandidateProspectChat(ctx context.Context, candidateID int64) (*model.Chat, error) {
	var c *model.Chat
	if err := t.do(ctx, http.MethodGet, fmt.Sprintf("/chat/%d/get-cp-chat", candidateID), nil, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *HTTPTransport) UserInfo(ctx context.Context, chatID, userID int64) (*model.ChatUserInfo, error) {
	var info model.ChatUserInfo
	path := fmt.Sprintf("/chat/%d/user/%d/get-chat-user-info", chatID, userID)
	if err := t.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MarkAsRead advances the marker to postID, or to the last post for 0.
func (t *HTTPTransport) MarkAsRead(ctx context.Context, chatID, postID int64) (*int64, error) {
	var out struct {
		LastReadPostID *int64 `json:"lastReadPostId"`
	}
	if err := t.do(ctx, http.MethodPut, fmt.Sprintf("/chat/%d/post/%d/read", chatID, postID), nil, &out); err != nil {
		return nil, err
	}
	return out.LastReadPostID, nil
}

func (t *HTTPTransport) CheckUnread(ctx context.Context) (int, error) {
	var out model.ChatUserInfo
	if err := t.do(ctx, http.MethodGet, "/chat/check-unread", nil, &out); err != nil {
		return 0, err
	}
	return out.NumberUnreadChats, nil
}

func (t *HTTPTransport) Posts(ctx context.Context, chatID int64) ([]model.Post, error) {
	var out []model.Post
	err := t.do(ctx, http.MethodGet, fmt.Sprintf("/chat/%d/post", chatID), nil, &out)
	return out, err
}

func (t *HTTPTransport) CreatePost(ctx context.Context, chatID int64, content string) (*model.Post, error) {
	var p model.Post
	if err := t.do(ctx, http.MethodPost, fmt.Sprintf("/chat/%d/post", chatID), model.PostRequest{Content: content}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *HTTPTransport) UpdatePost(ctx context.Context, postID int64, content string) (*model.Post, error) {
	var p model.Post
	if err := t.do(ctx, http.MethodPut, fmt.Sprintf("/chat-post/%d", postID), model.PostRequest{Content: content}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
