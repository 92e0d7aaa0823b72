package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{times: make(map[string][]time.Time), max: max, window: window}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.max {
		if len(slice) == 0 {
			delete(r.times, key)
		}
		return false
	}
	r.times[key] = append(slice, now)
	return true
}

// RateLimit пропускает maxPerIP запросов за окно с одного адреса и maxPerUser
// от одного пользователя, остальным — 429. Лимит по пользователю работает
// только после TokenAuth.
func RateLimit(maxPerIP, maxPerUser int, window time.Duration) func(http.Handler) http.Handler {
	byIP := newRateLimiter(maxPerIP, window)
	byUser := newRateLimiter(maxPerUser, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if x := r.Header.Get("X-Real-Ip"); x != "" {
				ip = x
			}
			if !byIP.allow(ip) {
				tooMany(w)
				return
			}
			if userID := GetUserID(r.Context()); userID != 0 {
				if !byUser.allow("u:" + strconv.FormatInt(userID, 10)) {
					tooMany(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tooMany(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests"}`))
}
