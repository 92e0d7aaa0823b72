package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
	"github.com/jobchat/internal/storage"
)

var ErrInvalidToken = errors.New("invalid or expired token")

const tokenKeyPrefix = "token:"

// AuthService issues opaque access tokens and resolves them back to users.
// Tokens live in the KV store until they expire or the user logs out.
type AuthService struct {
	users UserRepo
	store storage.KV
	ttl   time.Duration
}

func NewAuthService(users UserRepo, store storage.KV, ttl time.Duration) *AuthService {
	return &AuthService{users: users, store: store, ttl: ttl}
}

func maskToken(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

// Login records the user and returns a fresh session.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.Session, error) {
	if req.UserID <= 0 {
		return nil, invalid(errors.New("userId is required"))
	}
	u := model.UserSummary{
		ID:        req.UserID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.TrimSpace(req.Email),
	}
	if err := s.users.Upsert(ctx, u); err != nil {
		return nil, err
	}
	stored, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	token := uuid.New().String()
	if err := s.store.Set(ctx, tokenKeyPrefix+token, string(raw), s.ttl); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	logger.Infof("auth: session %s issued for user %d", maskToken(token), u.ID)
	return &model.Session{User: *stored, Token: token}, nil
}

// Validate returns the user the token was issued to.
func (s *AuthService) Validate(ctx context.Context, token string) (*model.UserSummary, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	raw, err := s.store.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if raw == "" {
		return nil, ErrInvalidToken
	}
	var u model.UserSummary
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, ErrInvalidToken
	}
	return &u, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	logger.Infof("auth: session %s revoked", maskToken(token))
	return s.store.Delete(ctx, tokenKeyPrefix+strings.TrimSpace(token))
}
