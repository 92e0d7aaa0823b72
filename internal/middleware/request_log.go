package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jobchat/internal/logger"
)

// RequestLog логирует время запроса по шаблону маршрута (/chat/7/post и
// /chat/9/post попадают под одну метку). Быстрые запросы — только на debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		logger.LogDuration("http "+r.Method+" "+route, start)
	})
}
