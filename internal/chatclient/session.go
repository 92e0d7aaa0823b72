package chatclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/storage"
)

const DefaultSessionPrefix = "tc."

const (
	sessionUserKey  = "user"
	sessionTokenKey = "token"
	sessionTabKey   = "tab."
)

// SessionStore keeps the logged-in user, the access token and the last
// active tab per view under a common key prefix.
type SessionStore struct {
	kv     storage.KV
	prefix string
}

// NewSessionStore uses DefaultSessionPrefix when prefix is empty.
func NewSessionStore(kv storage.KV, prefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultSessionPrefix
	}
	return &SessionStore{kv: kv, prefix: prefix}
}

func (s *SessionStore) key(k string) string { return s.prefix + k }

// Login stores both the user and the token.
func (s *SessionStore) Login(ctx context.Context, sess model.Session) error {
	if err := s.SetUser(ctx, sess.User); err != nil {
		return err
	}
	return s.SetToken(ctx, sess.Token)
}

// Logout removes the user and the token; tabs survive.
func (s *SessionStore) Logout(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key(sessionUserKey)); err != nil {
		return fmt.Errorf("session: delete user: %w", err)
	}
	if err := s.kv.Delete(ctx, s.key(sessionTokenKey)); err != nil {
		return fmt.Errorf("session: delete token: %w", err)
	}
	return nil
}

func (s *SessionStore) SetUser(ctx context.Context, u model.UserSummary) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(sessionUserKey), string(raw), 0)
}

// User is nil when nobody is logged in.
func (s *SessionStore) User(ctx context.Context) (*model.UserSummary, error) {
	raw, err := s.kv.Get(ctx, s.key(sessionUserKey))
	if err != nil || raw == "" {
		return nil, err
	}
	var u model.UserSummary
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("session: decode user: %w", err)
	}
	return &u, nil
}

func (s *SessionStore) SetToken(ctx context.Context, token string) error {
	return s.kv.Set(ctx, s.key(sessionTokenKey), token, 0)
}

func (s *SessionStore) Token(ctx context.Context) (string, error) {
	return s.kv.Get(ctx, s.key(sessionTokenKey))
}

// SetTab remembers the active tab of a view, e.g. "candidate" → "chat".
func (s *SessionStore) SetTab(ctx context.Context, view, tab string) error {
	return s.kv.Set(ctx, s.key(sessionTabKey+view), tab, 0)
}

func (s *SessionStore) Tab(ctx context.Context, view string) (string, error) {
	return s.kv.Get(ctx, s.key(sessionTabKey+view))
}
