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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/noria-ai/noria/internal/agent"
	"github.com/noria-ai/noria/internal/auth"
	"github.com/noria-ai/noria/internal/config"
	"github.com/noria-ai/noria/internal/executor"
	"github.com/noria-ai/noria/internal/ratelimit"
	"github.com/noria-ai/noria/internal/server"
	"github.com/noria-ai/noria/internal/service/failqueue"
	"github.com/noria-ai/noria/internal/service/selfscore"
	"github.com/noria-ai/noria/internal/storage"
	"github.com/noria-ai/noria/internal/telemetry"
	"github.com/noria-ai/noria/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("NORIA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("noria starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Register the built-in coaching agents when a model API key is present.
	// Without one the service still runs: externally registered flows can be
	// exercised through the admin surface, and health stays green.
	registry := agent.NewRegistry()
	if cfg.AnthropicAPIKey != "" {
		completer, err := agent.NewAnthropicCompleter(agent.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: int64(cfg.AnthropicMaxTokens),
		}, logger)
		if err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}
		registry.MustRegister(agent.NewJournalSummarization(completer))
		registry.MustRegister(agent.NewGoalSuggestion(completer))
		registry.MustRegister(agent.NewCheckInReflection(completer))
		logger.Info("agents registered", "agents", registry.Names(), "model", cfg.AnthropicModel)
	} else {
		logger.Warn("no ANTHROPIC_API_KEY set; starting with an empty agent registry")
	}

	failSvc := failqueue.New(db, logger)
	scoreSvc := selfscore.New(db, cfg.SelfScoreFlagThreshold, logger)

	exec := executor.New(executor.Config{
		Timeout:       cfg.AgentTimeout,
		MaxRetries:    cfg.AgentMaxRetries,
		BackoffFirst:  cfg.AgentBackoffFirst,
		BackoffNext:   cfg.AgentBackoffNext,
		SlowThreshold: cfg.SlowCallThreshold,
	}, db, failSvc, logger)

	// Periodic failure-queue processing pass.
	cronWorker, err := failSvc.StartWorker(cfg.QueueSchedule, cfg.QueueTickTimeout)
	if err != nil {
		return fmt.Errorf("failure queue worker: %w", err)
	}
	logger.Info("failure queue worker started", "schedule", cfg.QueueSchedule)

	// Token bucket refills at the configured per-minute rate.
	limiter := ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Registry:            registry,
		Executor:            exec,
		FailureSvc:          failSvc,
		SelfScoreSvc:        scoreSvc,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Seed the initial admin operator.
	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("noria shutting down")

		// Stop scheduling new queue passes; in-flight ones finish on their own.
		cronCtx := cronWorker.Stop()

		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}

		select {
		case <-cronCtx.Done():
		case <-time.After(cfg.QueueTickTimeout):
			slog.Warn("failure queue pass still running at shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("noria stopped")
	return nil
}
