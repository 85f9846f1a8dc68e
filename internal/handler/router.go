package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/gateway"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/service"
)

// Deps: всё, что нужно HTTP API. Hub задаётся только во встроенном режиме (-embedded),
// иначе /ws обслуживает отдельный сервис realtime.
type Deps struct {
	Config  *config.Config
	Auth    *service.AuthService
	Chats   *service.ChatService
	Friends *service.FriendService
	Hub     *gateway.Hub
}

// NewRouter собирает маршруты /api/*, /health, /metrics и (при наличии Hub) /ws.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	authH := NewAuthHandler(d.Auth, cfg.Auth.CookieSecure)
	userH := NewUserHandler(d.Auth, authH)
	chatH := NewChatHandler(d.Chats)
	msgH := NewMessageHandler(d.Chats)
	friendH := NewFriendHandler(d.Friends)
	configH := NewConfigHandler(cfg)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket, иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", metrics.Handler())
	r.Get("/api/config/realtime", configH.GetRealtimeConfig)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Post("/api/auth/signup", authH.SignUp)
		r.Post("/api/auth/login", authH.Login)
		r.Post("/api/auth/logout", authH.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(d.Auth))
		r.Use(limiter.Handler)
		r.Get("/api/users/me", userH.GetProfile)
		r.Delete("/api/users/me", userH.DeleteAccount)

		r.Get("/api/chats", chatH.GetUserChats)
		r.Post("/api/chats", chatH.CreateChat)
		r.Get("/api/chats/{id}", chatH.GetChat)
		r.Put("/api/chats/{id}", chatH.RenameChat)
		r.Delete("/api/chats/{id}", chatH.DeleteChat)
		r.Post("/api/chats/{id}/leave", chatH.LeaveChat)

		r.Get("/api/messages/{chatId}", msgH.GetMessages)
		r.Post("/api/messages/{chatId}", msgH.Send)
		r.Put("/api/messages/{chatId}/{messageId}", msgH.Edit)
		r.Delete("/api/messages/{chatId}/{messageId}", msgH.Unsend)
		r.Post("/api/messages/{chatId}/{messageId}/react", msgH.React)

		r.Get("/api/friends", friendH.ListFriends)
		r.Get("/api/friends/requests", friendH.ListRequests)
		r.Post("/api/friends/requests", friendH.SendRequest)
		r.Post("/api/friends/requests/{id}/accept", friendH.Accept)
		r.Post("/api/friends/requests/{id}/reject", friendH.Reject)
	})

	if d.Hub != nil {
		wsH := NewWSHandler(d.Hub)
		r.With(middleware.TokenAuth(d.Auth)).Get("/ws", wsH.ServeWS)
	}
	return r
}
