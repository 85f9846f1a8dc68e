package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/chatsync/internal/auth"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/gateway"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/service"
	"github.com/chatsync/internal/startup"
)

// Шлюз веб-сокетов: PSUBSCRIBE chat-* user-* в Redis и раздача событий подписанным клиентам.
func main() {
	logger.SetPrefix("realtime")
	logger.Info("starting realtime gateway")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		logger.Errorf("realtime: %v", err)
		os.Exit(1)
	}
	logger.Info("realtime stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	pool, err := startup.ConnectDB(ctx, cfg, 60*time.Second, "realtime: ")
	if err != nil {
		return err
	}
	defer pool.Close()

	rc, err := startup.ConnectRedis(ctx, cfg.Redis.URL, 60*time.Second, "realtime: ")
	if err != nil {
		return err
	}
	defer rc.Close()

	store := repository.NewStore(pool)
	chats := service.NewChatService(store, rc)
	authSvc := service.NewAuthService(store, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), rc)

	hub := gateway.NewHub(chats, gateway.Options{
		MaxConnections: cfg.WS.MaxConnections,
		SendBufferSize: cfg.WS.SendBufferSize,
		WriteTimeout:   cfg.WS.WriteTimeout,
		PongTimeout:    cfg.WS.PongTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		CheckOrigin:    handler.OriginChecker(cfg.AllowedOrigins()),
	})
	wsH := handler.NewWSHandler(hub)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowCredentials: true,
	}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", metrics.Handler())
	r.With(middleware.TokenAuth(authSvc)).Get("/ws", wsH.ServeWS)

	// WriteTimeout не задаётся: соединения долгоживущие, дедлайны ставит сам шлюз.
	srv := &http.Server{
		Addr:        cfg.RealtimeAddr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx, rc) })
	g.Go(func() error {
		logger.Infof("gateway listening on %s", cfg.RealtimeAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
