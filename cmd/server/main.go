// Package main is the entrypoint for the jobsync API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/jobsync/internal/api"
	"github.com/kiranshivaraju/jobsync/internal/api/handler"
	mw "github.com/kiranshivaraju/jobsync/internal/api/middleware"
	"github.com/kiranshivaraju/jobsync/internal/api/response"
	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/internal/catalog"
	"github.com/kiranshivaraju/jobsync/internal/config"
	"github.com/kiranshivaraju/jobsync/internal/failure"
	"github.com/kiranshivaraju/jobsync/internal/gateway"
	"github.com/kiranshivaraju/jobsync/internal/logging"
	"github.com/kiranshivaraju/jobsync/internal/mutation"
	"github.com/kiranshivaraju/jobsync/internal/poller"
	"github.com/kiranshivaraju/jobsync/internal/upload"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout      = 30 * time.Second
	sessionSweepInterval = time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	slog.Info("config loaded", "env", cfg.Server.Env, "gateway", cfg.Gateway.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Cache store
	store, err := openStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer store.Close()

	// 3. Gateway client and the layers built on it
	gw := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, cfg.Gateway.UploadTimeout)
	if err := gw.Ready(ctx); err != nil {
		slog.Warn("gateway not ready at startup", "error", err)
	}

	qc := cache.NewQueryCache(store)
	cat := catalog.New(gw, qc)
	orch := mutation.New(gw, qc)
	resolver := failure.NewResolver(gw, failure.WithTimeout(cfg.Failure.LookupTimeout))
	sessions := upload.NewRegistry(gw)
	poll := poller.New(cat, qc,
		poller.WithWindow(cfg.Poller.WindowHours),
		poller.WithInterval(cfg.Poller.Interval),
	)

	// 4. Build router with dependencies
	res := handler.NewResources(cat, orch)
	up := handler.NewUploads(sessions, orch)

	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(store, cfg.Server.RateLimitPerMinute),

		HealthHandler:  healthHandler(gw, store),
		ListTasks:      handler.NewListTasksHandler(cat, cfg.Poller.WindowHours),
		FailureHandler: handler.NewFailureHandler(cat, resolver, cfg.Poller.WindowHours),
		SubmitJob:      handler.NewSubmitJobHandler(orch),

		ListModels:    res.ListModels,
		GetModel:      res.GetModel,
		UpdateModel:   res.UpdateModel,
		DeleteModel:   res.DeleteModel,
		ModelTasks:    res.ModelTasks,
		ListDatasets:  res.ListDatasets,
		GetDataset:    res.GetDataset,
		UpdateDataset: res.UpdateDataset,
		DeleteDataset: res.DeleteDataset,
		DatasetTasks:  res.DatasetTasks,

		CreateUpload:   up.Create,
		GetUpload:      up.Get,
		AddUploadFiles: up.AddFiles,
		RemoveUpload:   up.RemoveFile,
		RetryUpload:    up.RetryFile,
		FinalizeUpload: up.Finalize,
		DiscardUpload:  up.Discard,
	}

	// 5. Start the poller and the HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poll.Run(gctx)
	})
	g.Go(func() error {
		return sessions.RunExpiry(gctx, sessionSweepInterval, cfg.Upload.SessionTTL)
	})
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects to Redis when configured and falls back to an
// in-process store otherwise.
func openStore(ctx context.Context, cfg config.RedisConfig) (cache.Store, error) {
	if cfg.URL == "" {
		slog.Info("REDIS_URL not set, using in-memory cache")
		return cache.NewMemoryStore(), nil
	}

	rs, err := cache.NewRedisStore(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis store: %w", err)
	}
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rs, nil
}

type readinessChecker interface {
	Ready(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks gateway and cache connectivity.
func healthHandler(gw readinessChecker, store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"gateway": "ok",
			"cache":   "ok",
		}

		if err := gw.Ready(r.Context()); err != nil {
			checks["gateway"] = "degraded"
		}
		if err := store.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["gateway"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
