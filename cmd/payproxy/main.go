// Package main запускает HTTP-сервер платёжного прокси.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/cvbuilder-pay/internal/config"
	"github.com/mmeshcher/cvbuilder-pay/internal/handler"
	"github.com/mmeshcher/cvbuilder-pay/internal/mercadopago"
	"github.com/mmeshcher/cvbuilder-pay/internal/middleware"
	"github.com/mmeshcher/cvbuilder-pay/internal/ratelimit"
	"github.com/mmeshcher/cvbuilder-pay/internal/repository"
	"github.com/mmeshcher/cvbuilder-pay/internal/service"
)

const sweepInterval = time.Minute

// limiter объединяет хранилище лимитов с его фоновой очисткой и закрытием.
type limiter struct {
	store ratelimit.Store
	run   func(ctx context.Context)
	close func() error
}

func newLimiter(cfg *config.Config) (*limiter, error) {
	rule := cfg.RateLimitRule()

	switch cfg.RateLimitStore {
	case config.StoreRedis:
		store, err := ratelimit.NewRedisStore(cfg.RedisConfig(), rule)
		if err != nil {
			return nil, err
		}
		return &limiter{store: store, run: func(context.Context) {}, close: store.Close}, nil
	case config.StorePostgres:
		store, err := repository.NewPostgresRateLimitStore(cfg.DatabaseURI, rule)
		if err != nil {
			return nil, err
		}
		return &limiter{
			store: store,
			run:   func(ctx context.Context) { store.Run(ctx, sweepInterval) },
			close: store.Close,
		}, nil
	default:
		store, err := ratelimit.NewMemoryStore(rule)
		if err != nil {
			return nil, err
		}
		return &limiter{
			store: store,
			run:   func(ctx context.Context) { store.Run(ctx, sweepInterval) },
			close: func() error { return nil },
		}, nil
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	token := ""
	if cfg.TokenConfigured() {
		token = cfg.AccessToken
	} else {
		sugar.Warn("MERCADO_PAGO_ACCESS_TOKEN not configured, payment endpoints will refuse requests")
	}
	if len(cfg.AllowedOrigins) == 0 {
		sugar.Warn("ALLOWED_ORIGINS is empty, responses will allow any origin")
	}

	lim, err := newLimiter(cfg)
	if err != nil {
		sugar.Fatalw("rate limit store initialization error", "store", cfg.RateLimitStore, "error", err.Error())
	}
	defer lim.close()

	gateway := mercadopago.NewClient(cfg.GatewayURL, token, cfg.GatewayTimeout)
	svc := service.NewService(gateway, cfg.ServiceConfig(), logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := handler.NewHandler(svc, logger, middleware.NewSecurityHeaders(cfg.AllowedOrigins), lim.store).
		WithMetrics(middleware.NewMetrics(registry), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая очистка устаревших окон лимита
	g.Go(func() error {
		lim.run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting payment proxy",
			"addr", cfg.RunAddress,
			"rate_limit_store", cfg.RateLimitStore,
			"amount_min", cfg.MinAmount.String(),
			"amount_max", cfg.MaxAmount.String(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
