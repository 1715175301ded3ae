// Package main is the entrypoint for the ReelForge API server.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reelforge/reelforge/internal/api"
	"github.com/reelforge/reelforge/internal/api/handler"
	mw "github.com/reelforge/reelforge/internal/api/middleware"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/cache"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/credential"
	"github.com/reelforge/reelforge/internal/events"
	"github.com/reelforge/reelforge/internal/merge"
	"github.com/reelforge/reelforge/internal/orchestrator"
	"github.com/reelforge/reelforge/internal/poller"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/internal/provider"
	"github.com/reelforge/reelforge/internal/retrier"
	"github.com/reelforge/reelforge/internal/storage"
	"github.com/reelforge/reelforge/internal/store"
	"github.com/reelforge/reelforge/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	rateLimitPerMin = 120
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "provider", cfg.Provider.Name, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	dbPool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbPool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create video provider
	videoProvider, err := provider.New(cfg.Provider)
	if err != nil {
		return fmt.Errorf("create video provider: %w", err)
	}
	slog.Info("video provider initialized", "provider", cfg.Provider.Name)

	// 6. Create store
	pgStore := store.NewPostgresStore(dbPool)

	// 7. Seed the credential pool from the database. The stored
	// rotation policy wins over the env defaults once one exists.
	creds, err := pgStore.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	policy := cfg.Rotation
	if stored, err := pgStore.GetRotationPolicy(ctx); err == nil && stored != nil {
		policy = *stored
	}
	seed := make([]models.Credential, 0, len(creds))
	for _, c := range creds {
		seed = append(seed, *c)
	}
	credPool := credential.NewPool(seed, policy)
	credPool.StartRotation(ctx)
	defer credPool.Stop()
	slog.Info("credential pool seeded", "credentials", len(seed))

	// 8. Storage for merged artifacts: MinIO when configured, the
	// local work dir otherwise.
	var uploader storage.Uploader
	if cfg.Storage.Endpoint != "" {
		uploader, err = storage.NewMinio(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("create minio storage: %w", err)
		}
		slog.Info("minio storage ready", "bucket", cfg.Storage.Bucket)
	} else {
		uploader, err = storage.NewLocal(cfg.Merge.WorkDir)
		if err != nil {
			return fmt.Errorf("create local storage: %w", err)
		}
		slog.Info("local storage ready", "dir", cfg.Merge.WorkDir)
	}

	// 9. Terminal-event publisher: AMQP when enabled, nop otherwise.
	var eventPub events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		amqpPub, err := events.NewAMQP(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			return fmt.Errorf("create amqp publisher: %w", err)
		}
		eventPub = amqpPub
		slog.Info("amqp events enabled", "exchange", cfg.Events.Exchange)
	}
	defer eventPub.Close()

	// 10. Assemble the generation pipeline
	opPoller := poller.New(videoProvider, cfg.Provider.PollInterval, cfg.Provider.MaxPolls, cfg.Provider.MaxQuickPolls)
	progressPub := progress.NewPublisher()
	orch := orchestrator.New(pgStore, redisCache, credPool, opPoller, progressPub, eventPub, videoProvider)
	retryCoord := retrier.New(orch)
	mergePipe := merge.New(cfg.Merge, uploader)

	// Re-adopt jobs that were in flight when the previous process died.
	if err := orch.Recover(ctx); err != nil {
		slog.Warn("job recovery incomplete", "error", err)
	}

	// 11. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, rateLimitPerMin)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.Handler(),

		GenerateHandler:    handler.NewGenerateHandler(orch),
		JobSnapshotHandler: handler.NewJobSnapshotHandler(orch),
		JobStreamHandler:   handler.NewJobStreamHandler(orch),
		DiscardJobHandler:  handler.NewDiscardJobHandler(orch),
		RetryUnitHandler:   handler.NewRetryUnitHandler(retryCoord),
		RetryJobHandler:    handler.NewRetryJobHandler(retryCoord),
		CancelUnitHandler:  handler.NewCancelUnitHandler(orch),
		StatusHandler:      handler.NewStatusHandler(orch),
		MergeHandler:       handler.NewMergeHandler(mergePipe),

		ListCredentials:    handler.NewListCredentialsHandler(credPool),
		CreateCredential:   handler.NewCreateCredentialHandler(pgStore, credPool),
		DeleteCredential:   handler.NewDeleteCredentialHandler(pgStore, credPool),
		ToggleCredential:   handler.NewToggleCredentialHandler(pgStore, credPool),
		ReplaceCredentials: handler.NewReplaceCredentialsHandler(pgStore, credPool),
		GetRotation:        handler.NewGetRotationHandler(credPool),
		UpdateRotation:     handler.NewUpdateRotationHandler(pgStore, credPool),

		ListHistory:     handler.NewListHistoryHandler(pgStore),
		GetHistoryEntry: handler.NewGetHistoryEntryHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 12. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// No WriteTimeout: NDJSON progress streams stay open for the
		// lifetime of a job.
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout. HTTP drains first so open
	// streams observe their final events, then in-flight attempts.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("attempt drain incomplete", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
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
