package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jobchat/internal/logger"
	"github.com/jobchat/internal/model"
)

// TokenValidator возвращает пользователя по токену доступа.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*model.UserSummary, error)
}

// BearerToken читает "Authorization: Bearer <token>", а если заголовка нет —
// query-параметр access_token (браузер не ставит заголовки при upgrade WebSocket).
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// TokenAuth отвечает 401 на запросы без действующего токена.
func TokenAuth(v TokenValidator, isInvalid func(error) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			u, err := v.Validate(r.Context(), token)
			if err != nil {
				if isInvalid == nil || !isInvalid(err) {
					logger.Errorf("auth: validate token: %v", err)
				}
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u, token)))
		})
	}
}

// IsErr строит аргумент isInvalid для TokenAuth по sentinel-ошибке.
func IsErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
