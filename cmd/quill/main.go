// Package main is the entry point for the quill editor bot. It wires all
// dependencies together, starts long polling, the scheduler and the ops
// HTTP server, and shuts everything down on SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/backend"
	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/dispatch"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/orchestrator"
	"github.com/pitabwire/quill/internal/scheduler"
	"github.com/pitabwire/quill/internal/session"
	"github.com/pitabwire/quill/internal/settings"
	"github.com/pitabwire/quill/internal/telegram"
	"github.com/pitabwire/quill/internal/transport"
	"github.com/pitabwire/quill/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	// Step 2: Load configuration.
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "quill", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(registry)

	// Step 4: Initialize the session store.
	sessions, sessionsCloser, err := buildSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	// Step 5: Initialize the AI settings store.
	settingsStore, settingsCloser, err := buildSettingsStore(ctx, cfg.Settings, logger)
	if err != nil {
		logger.Error("settings store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Build the outbound clients.
	content := backend.New(cfg.Backend, metrics, logger)
	bot := telegram.New(cfg.Telegram, logger)

	// Step 7: Build the orchestrator and the per-chat dispatcher.
	orch := orchestrator.New(orchestrator.Config{
		AdminChatID:    model.ChatID(cfg.Telegram.AdminChatID),
		ChannelID:      cfg.Telegram.ChannelID,
		AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
		RecentLimit:    cfg.Backend.RecentLimit,
	}, orchestrator.Deps{
		Sessions:  sessions,
		Settings:  settingsStore,
		Backend:   content,
		Messenger: bot,
		Metrics:   metrics,
		Logger:    logger,
	})
	dispatcher := dispatch.New(dispatch.HandlerFunc(orch.Handle), cfg.Dispatch, metrics, logger)
	poller := telegram.NewPoller(bot, dispatcher, logger)

	// Step 8: Build the scheduler. Without an admin chat it is a no-op.
	sched, err := scheduler.New(cfg.Scheduler, model.ChatID(cfg.Telegram.AdminChatID), dispatcher, metrics, logger)
	if err != nil {
		logger.Error("scheduler initialization failed", zap.Error(err))
		return 1
	}

	// Step 9: Build the ops HTTP server.
	var srv *http.Server
	if cfg.Server.Port > 0 {
		router := transport.NewRouter(transport.Dependencies{
			Config:   cfg,
			Logger:   logger,
			Metrics:  metrics,
			Gatherer: registry,
			Readiness: observability.ReadinessChecks{
				SessionStore:  healthChecker(sessions),
				SettingsStore: healthChecker(settingsStore),
				Poller:        poller,
			},
		})
		srv = transport.NewServer(cfg.Server, observability.TracingMiddleware(router))
	}

	// Step 10: Start background tasks.
	errCh := make(chan error, 2)
	pollCtx, pollCancel := context.WithCancel(ctx)
	defer pollCancel()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := poller.Run(pollCtx); err != nil {
			errCh <- fmt.Errorf("poller: %w", err)
		}
	}()

	sched.Start()

	if srv != nil {
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	logger.Info("bot started",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("ops_port", cfg.Server.Port),
		zap.Int64("admin_chat_id", cfg.Telegram.AdminChatID),
		zap.Bool("scheduler", sched != nil),
	)

	// Wait for shutdown signal or a fatal background error.
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("background task failed", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop producing events, then drain what is queued.
	pollCancel()
	<-pollDone
	sched.Stop(shutdownCtx)
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown error", zap.Error(err))
		exitCode = 1
	}

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", zap.Error(err))
		}
	}

	// Close stores.
	if sessionsCloser != nil {
		sessionsCloser()
	}
	if settingsCloser != nil {
		settingsCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}

// buildSessionStore creates the session store based on config.
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store", zap.Duration("idle_ttl", cfg.IdleTTL))
		return session.NewMemoryStore(cfg.IdleTTL), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("session store: ping %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("using redis session store", zap.String("addr", cfg.Redis.Addr))
		return session.NewRedisStore(client, cfg.IdleTTL), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session driver: %q", cfg.Driver)
	}
}

// buildSettingsStore creates the AI settings store based on config.
func buildSettingsStore(ctx context.Context, cfg config.SettingsConfig, logger *zap.Logger) (settings.Store, func(), error) {
	switch cfg.Driver {
	case "file", "":
		logger.Info("using file settings store", zap.String("path", cfg.Path))
		return settings.NewFileStore(cfg.Path, logger), nil, nil
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("settings store: parse DSN: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxConns)
		}
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("settings store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("settings store: ping: %w", err)
		}

		store := settings.NewPgStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("settings store: %w", err)
		}
		logger.Info("using postgres settings store")
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported settings driver: %q", cfg.Driver)
	}
}

// healthChecker returns v as a HealthChecker when it implements one.
func healthChecker(v any) observability.HealthChecker {
	if hc, ok := v.(observability.HealthChecker); ok {
		return hc
	}
	return nil
}
