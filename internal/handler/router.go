package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jobchat/internal/config"
	"github.com/jobchat/internal/fileserver"
	"github.com/jobchat/internal/metrics"
	"github.com/jobchat/internal/middleware"
	"github.com/jobchat/internal/push"
	"github.com/jobchat/internal/service"
	"github.com/jobchat/internal/ws"
)

// WebSocketPath — адрес, по которому клиенты открывают push-соединение.
const WebSocketPath = "/jobchat/websocket"

// Deps — сервисы за маршрутами. Push, Files и Metrics необязательны: при nil
// их маршруты не регистрируются.
type Deps struct {
	Chats   *service.ChatService
	Auth    *service.AuthService
	Hub     *ws.Hub
	Push    *push.Notifier
	Files   *fileserver.Local
	Metrics *metrics.Metrics
}

// FilesPath — префикс URL для раздачи локальных вложений.
func FilesPath(cfg *config.Config) string {
	return cfg.APIPrefix + "/files"
}

func NewRouter(cfg *config.Config, d Deps) http.Handler {
	chatH := NewChatHandler(d.Chats)
	postH := NewPostHandler(d.Chats, cfg.MaxUploadSize)
	authH := NewAuthHandler(d.Auth)
	wsH := NewWSHandler(d.Hub, cfg.AllowedOrigins())

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	if !cfg.Production {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	compress := chimw.Compress(5)
	r.Use(func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.With(middleware.InternalOnly(cfg.InternalSecret)).Handle("/metrics", d.Metrics.Handler())
	}

	auth := middleware.TokenAuth(d.Auth, middleware.IsErr(service.ErrInvalidToken))
	limit := middleware.RateLimit(cfg.RateLimitIP, cfg.RateLimitUser, time.Minute)

	r.With(auth).Get(WebSocketPath, wsH.ServeWS)

	r.Route(cfg.APIPrefix, func(r chi.Router) {
		r.With(limit).Post("/auth/login", authH.Login)
		if d.Files != nil {
			r.Get("/files/{filename}", NewFileHandler(d.Files).Serve)
		}
		if d.Push != nil {
			r.Get("/push/vapid-public-key", NewPushHandler(d.Push).PublicKey)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth, limit)
			r.Post("/auth/logout", authH.Logout)
			r.Get("/auth/me", authH.Me)

			r.Post("/chat", chatH.Create)
			r.Get("/chat", chatH.List)
			r.Post("/chat/get-or-create", chatH.GetOrCreate)
			r.Get("/chat/check-unread", chatH.CheckUnread)
			r.Get("/chat/{chatId}", chatH.Get)
			r.Get("/chat/{candidateId}/get-cp-chat", chatH.CandidateProspectChat)
			r.Put("/chat/{chatId}/post/{postId}/read", chatH.MarkAsRead)
			r.Get("/chat/{chatId}/user/{userId}/get-chat-user-info", chatH.UserInfo)

			r.Get("/chat/{chatId}/post", postH.List)
			r.Post("/chat/{chatId}/post", postH.Create)
			r.Put("/chat-post/{postId}", postH.Update)
			r.Post("/chat/{chatId}/upload", postH.Upload)

			if d.Push != nil {
				pushH := NewPushHandler(d.Push)
				r.Post("/push/subscribe", pushH.Subscribe)
				r.Delete("/push/subscribe", pushH.Unsubscribe)
			}
		})
	})
	return r
}
