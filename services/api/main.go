package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatsync/internal/auth"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/gateway"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	pubsubmem "github.com/chatsync/internal/pubsub/memory"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/retention"
	"github.com/chatsync/internal/service"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage"
	storemem "github.com/chatsync/internal/storage/memory"
)

type options struct {
	migrate  bool
	dev      bool
	inMemory bool
	embedded bool
}

func main() {
	logger.SetPrefix("api")
	var opts options
	flag.BoolVar(&opts.migrate, "migrate", false, "run database migrations and exit")
	flag.BoolVar(&opts.dev, "dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.BoolVar(&opts.inMemory, "memory", false, "keep all data in process memory (no database)")
	flag.BoolVar(&opts.embedded, "embedded", false, "serve /ws from this process over the in-memory broker")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if opts.embedded {
		cfg.PubSub = config.PubSubMemory
	}

	// run возвращает ошибку вместо os.Exit, чтобы отработали defer (в том числе остановка embedded Postgres).
	if err := run(cfg, opts); err != nil {
		logger.Errorf("api: %v", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}

func run(cfg *config.Config, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if opts.inMemory {
		logger.Info("storage: in-memory (data is lost on exit)")
		store = storemem.New(uuid.NewString).Store()
	} else {
		if opts.dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				return fmt.Errorf("embedded postgres: %w", err)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool, err := startup.ConnectDB(ctx, cfg, 60*time.Second, "")
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := startup.RunMigrations(pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		if opts.migrate {
			logger.Info("migrations applied")
			return nil
		}
		store = repository.NewStore(pool)
		logger.Info("database connected, migrations applied")
	}

	g, gctx := errgroup.WithContext(ctx)

	// PUBSUB=memory: шлюз работает в этом же процессе и обслуживает /ws.
	var (
		pub    realtime.Publisher
		broker *pubsubmem.Broker
	)
	if cfg.PubSub == config.PubSubMemory {
		broker = pubsubmem.NewBroker(0)
		defer broker.Close()
		pub = broker
	} else {
		rc, err := startup.ConnectRedis(ctx, cfg.Redis.URL, 60*time.Second, "")
		if err != nil {
			return err
		}
		defer rc.Close()
		pub = rc
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	chats := service.NewChatService(store, pub)
	friends := service.NewFriendService(store, pub, chats)
	authSvc := service.NewAuthService(store, tokens, pub)

	var hub *gateway.Hub
	if broker != nil {
		hub = gateway.NewHub(chats, gateway.Options{
			MaxConnections: cfg.WS.MaxConnections,
			SendBufferSize: cfg.WS.SendBufferSize,
			WriteTimeout:   cfg.WS.WriteTimeout,
			PongTimeout:    cfg.WS.PongTimeout,
			MaxMessageSize: cfg.WS.MaxMessageSize,
			CheckOrigin:    handler.OriginChecker(cfg.AllowedOrigins()),
		})
		g.Go(func() error { return hub.Run(gctx, broker) })
	}

	if cfg.Retention.Cron != "" {
		sched, err := retention.New(cfg.Retention.Cron, time.Duration(cfg.Retention.DeclinedDays)*24*time.Hour, friends)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.Deps{
			Config:  cfg,
			Auth:    authSvc,
			Chats:   chats,
			Friends: friends,
			Hub:     hub,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
