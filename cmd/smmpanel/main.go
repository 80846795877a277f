// Package main запускает HTTP-сервер панели перепродажи услуг.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/smm-panel/internal/config"
	"github.com/mmeshcher/smm-panel/internal/events"
	"github.com/mmeshcher/smm-panel/internal/handler"
	"github.com/mmeshcher/smm-panel/internal/idempotency"
	"github.com/mmeshcher/smm-panel/internal/middleware"
	"github.com/mmeshcher/smm-panel/internal/provider"
	"github.com/mmeshcher/smm-panel/internal/repository"
	"github.com/mmeshcher/smm-panel/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := newRepository(cfg, sugar)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	guard, closeGuard, err := newGuard(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	defer closeGuard()

	bus, err := events.Connect(cfg.NATSURL)
	if err != nil {
		sugar.Fatalw("nats initialization error", "error", err.Error())
	}
	publisher := events.NewPublisher(nil, logger)
	if bus != nil {
		defer bus.Close()
		publisher = events.NewPublisher(bus, logger)
		sugar.Infow("publishing events to nats", "url", cfg.NATSURL)
	}

	gateway := provider.NewClient(cfg.ProviderURL, cfg.ProviderKey, cfg.ProviderTimeout)

	svc := service.NewService(repo, gateway, publisher, guard, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, tokens will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting smm panel server", "addr", cfg.RunAddress, "provider", cfg.ProviderURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

func newRepository(cfg *config.Config, sugar *zap.SugaredLogger) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is not set, using in-memory store")
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newGuard(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (service.Guard, func(), error) {
	rdb, err := idempotency.Connect(ctx, cfg.RedisAddress)
	if err != nil {
		return nil, nil, err
	}
	if rdb == nil {
		sugar.Info("REDIS_ADDRESS is not set, idempotency keys are tracked in memory")
		return idempotency.NewMemoryGuard(cfg.IdempotencyTTL), func() {}, nil
	}
	return idempotency.NewRedisGuard(rdb, cfg.IdempotencyTTL), func() { _ = rdb.Close() }, nil
}
