package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/session-service/internal/api/http"
	"github.com/spec-kit/session-service/internal/api/http/handlers"
	"github.com/spec-kit/session-service/internal/auth"
	"github.com/spec-kit/session-service/internal/config"
	"github.com/spec-kit/session-service/internal/events"
	"github.com/spec-kit/session-service/internal/observability"
	"github.com/spec-kit/session-service/internal/persistence"
	"github.com/spec-kit/session-service/internal/service"
	"github.com/spec-kit/session-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger = logger.With(
		zap.String("service", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", cfg.App.Version),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open credential store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeStore()

	readiness := []handlers.Dependency{{Name: cfg.Store.Driver, Check: store}}

	var throttle service.LoginThrottle = service.NoopLoginThrottle{}
	if cfg.Redis.Enabled {
		redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redis.Close()
		throttle = service.NewRedisLoginThrottle(redis.Client, cfg.Auth.LoginMaxFailures, cfg.Auth.LoginFailureWindow)
		readiness = append(readiness, handlers.Dependency{Name: "redis", Check: redis})
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(dispatcher, logger)

	sessions := service.NewSessionService(cfg.Auth, service.SessionDependencies{
		Store:      store,
		Passwords:  auth.BcryptVerifier{},
		Throttle:   throttle,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	users := service.NewUserService(cfg.Auth, store, sessions, nil, logger)

	app := httptransport.NewApp(cfg.App, logger, metrics, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness...),
		Auth:           handlers.NewAuthHandler(sessions),
		Users:          handlers.NewUsersHandler(users),
		AuthMiddleware: auth.NewAuthMiddleware(sessions),
		Metrics:        metrics.Handler(),
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
