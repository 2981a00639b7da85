package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plugboard/analytics/internal/app/migrate"
	"github.com/plugboard/analytics/internal/config"
	httpx "github.com/plugboard/analytics/internal/http"
	"github.com/plugboard/analytics/internal/logger"
	"github.com/plugboard/analytics/internal/repository/postgres"
	"github.com/plugboard/analytics/internal/service/aggregate"
	"github.com/plugboard/analytics/internal/service/alerting"
	"github.com/plugboard/analytics/internal/service/collector"
	"github.com/plugboard/analytics/internal/service/errgroup"
	"github.com/plugboard/analytics/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logger.New("analytics", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub(log)

	grouper := errgroup.New(repo, log)
	coll := collector.New(repo, grouper, hub, log, collector.Options{
		BatchSize:  cfg.CollectorBatchSize,
		MaxBuffer:  cfg.CollectorMaxBuffer,
		FlushEvery: cfg.CollectorFlushEvery,
		IPHashSalt: cfg.IPHashSalt,
	})
	go coll.Run(ctx)

	rollups := aggregate.New(repo, repo, log, cfg.AggregateInterval)
	go rollups.Run(ctx)

	notifier := alerting.NewNotifier(nil, nil, cfg.WebhookSecret, cfg.NotifyTimeout, log)
	evaluator := alerting.NewEvaluator(repo, repo, repo, notifier, log, cfg.AlertInterval)
	go evaluator.Run(ctx)

	refresher := alerting.NewBaselineRefresher(repo, repo, repo, log, cfg.BaselineWindowDays, cfg.BaselineRefreshEvery)
	go refresher.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, coll, grouper, rollups, evaluator, repo, hub, limiter, cfg.IngestToken, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("analytics server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("analytics server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
