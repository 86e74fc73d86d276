// Package main is the entrypoint for the roomscan API server.
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

	"github.com/kiranshivaraju/roomscan/internal/api"
	"github.com/kiranshivaraju/roomscan/internal/api/handler"
	mw "github.com/kiranshivaraju/roomscan/internal/api/middleware"
	"github.com/kiranshivaraju/roomscan/internal/blob"
	"github.com/kiranshivaraju/roomscan/internal/cache"
	"github.com/kiranshivaraju/roomscan/internal/config"
	"github.com/kiranshivaraju/roomscan/internal/feedback"
	"github.com/kiranshivaraju/roomscan/internal/inference"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/internal/notify"
	"github.com/kiranshivaraju/roomscan/internal/ocr"
	"github.com/kiranshivaraju/roomscan/internal/pipeline"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/internal/transport"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = 10 * time.Minute
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
	slog.Info("config loaded", "inference_provider", cfg.Inference.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
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

	// 5. Create external collaborators
	provider, err := inference.NewProvider(cfg.Inference)
	if err != nil {
		return fmt.Errorf("create inference provider: %w", err)
	}
	slog.Info("inference provider initialized", "provider", provider.Name())

	// 6. Build services and router
	a := buildApp(ctx, cfg, components{
		store:     store.NewPostgresStore(pool),
		blobs:     blob.NewPostgresStore(pool),
		cache:     redisCache,
		ocr:       ocr.NewHTTPClient(cfg.OCR.BaseURL, cfg.OCR.Timeout),
		inference: provider,
		transport: transport.NewHTTPTransport(cfg.Notify.CallbackURL, cfg.Notify.SendTimeout),
	}, slog.Default())

	// 7. Start HTTP server and janitor
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Pipeline.StageTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.jobs.RunJanitor(gctx, janitorInterval)
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

	err = g.Wait()
	a.runner.Wait()
	if err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// components are the storage and outbound clients the services run on.
type components struct {
	store     store.Store
	blobs     blob.Store
	cache     cache.Cache
	ocr       models.OCRProvider
	inference models.InferenceProvider
	transport transport.Transport
}

type app struct {
	jobs   *jobs.Service
	runner *pipeline.Runner
	router http.Handler
}

// buildApp wires services and handlers. Background pipeline runs derive from
// ctx, so cancelling it stops them.
func buildApp(ctx context.Context, cfg *config.Config, c components, logger *slog.Logger) *app {
	if logger == nil {
		logger = slog.Default()
	}
	exec := retry.New(retry.Config{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, retry.WithLogger(logger))

	notifyOpts := []notify.Option{
		notify.WithLogger(logger),
		notify.WithConcurrency(cfg.Notify.Concurrency),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
		notify.WithSubscriptionTTL(cfg.Notify.SubscriptionTTL),
	}
	newNotifier := func() pipeline.Notifier {
		return notify.NewNotifier(c.store, c.transport, notifyOpts...)
	}

	jobSvc := jobs.NewService(c.store, c.blobs,
		jobs.WithRetry(exec),
		jobs.WithLogger(logger),
		jobs.WithRetention(cfg.Pipeline.JobRetention),
		jobs.WithCancelHook(func(ctx context.Context, job *models.Job) {
			newNotifier().Notify(context.WithoutCancel(ctx), job.ID, notify.JobCancelled(job.ID))
		}),
	)

	pcfg := pipeline.Config{
		ModelVersion:         cfg.Inference.ModelVersion,
		IntermediateEndpoint: cfg.Inference.IntermediateEndpoint,
		FinalEndpoint:        cfg.Inference.FinalEndpoint,
		Threshold:            cfg.Pipeline.ConfidenceThreshold,
		OutputMode:           models.OutputMode(cfg.Pipeline.OutputMode),
		StageBudget:          cfg.Pipeline.StageBudget,
	}
	coord := pipeline.NewCoordinator(pipeline.Deps{
		Jobs:        jobSvc,
		Blobs:       c.blobs,
		Previews:    cache.NewResultCache(c.cache, cfg.Pipeline.PreviewCacheTTL),
		OCR:         c.ocr,
		Inference:   c.inference,
		NewNotifier: newNotifier,
	}, pcfg, pipeline.WithRetry(exec), pipeline.WithLogger(logger))

	runner := pipeline.NewRunner(coord,
		pipeline.WithStageRetry(pipeline.StageRetry(retry.Config{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		}, logger)),
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout),
		pipeline.WithRunnerLogger(logger),
		pipeline.WithBaseContext(ctx),
	)

	registry := notify.NewRegistry(c.store, jobSvc, c.transport, notifyOpts...)

	var launcher handler.Launcher
	if cfg.Pipeline.AutoRun {
		launcher = runner
	}
	jobHandlers := handler.NewJobs(jobSvc, coord, launcher, cfg.Server.MaxUploadBytes)
	feedbackHandlers := handler.NewFeedback(feedback.NewService(c.store, jobSvc,
		feedback.WithRetry(exec),
		feedback.WithLogger(logger),
	))
	conns := handler.NewConnections(registry)

	router := api.NewRouter(api.Dependencies{
		RateLimit:   mw.NewRateLimit(c.cache, cfg.Server.RateLimitPerMin),
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:     handler.NewHealthHandler(c.store, c.cache),
		CreateJobHandler:  jobHandlers.Create,
		GetJobHandler:     jobHandlers.Get,
		CancelJobHandler:  jobHandlers.Cancel,
		RunStageHandler:   jobHandlers.RunStage,
		PreviewHandler:    handler.NewPreviewHandler(coord, pcfg.ModelVersion),
		SubmitFeedback:    feedbackHandlers.Submit,
		ListFeedback:      feedbackHandlers.List,
		ConnectHandler:    conns.Connect,
		DisconnectHandler: conns.Disconnect,
		MessageHandler:    conns.Message,
	})

	return &app{jobs: jobSvc, runner: runner, router: router}
}
