package middleware

import (
	"context"

	"github.com/jobchat/internal/model"
)

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// WithUser кладёт в ctx аутентифицированного пользователя и его токен.
func WithUser(ctx context.Context, u *model.UserSummary, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, u)
	return context.WithValue(ctx, tokenKey, token)
}

// GetUser возвращает пользователя, выставленного TokenAuth, или nil.
func GetUser(ctx context.Context) *model.UserSummary {
	u, _ := ctx.Value(userKey).(*model.UserSummary)
	return u
}

// GetUserID — 0 для неаутентифицированных запросов.
func GetUserID(ctx context.Context) int64 {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return 0
}

func GetToken(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey).(string)
	return v
}
