package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/handler"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/observability"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// --- Config ---
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("supabase_url", cfg.SupabaseURL),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("amqp", cfg.AMQPURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("draft_ttl", cfg.DraftTTL),
		zap.Duration("session_idle_ttl", cfg.SessionIdleTTL),
		zap.Duration("autosave_debounce", cfg.AutosaveDebounce),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("dev_tools", cfg.DevTools),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "tradie-onboarding-bfa", cfg.TraceSampleRatio)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Backend ---
	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// --- Router ---
	verifier := service.NewTokenVerifier(cfg.JWTSecret, cfg.JWTAudience)
	router := handler.NewRouter(b.svc, verifier, b.supabase, b.metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		// Pending autosaves are flushed before connections close.
		if err := b.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("backend shutdown: %w", err))
		}
		logger.Info("server stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}
