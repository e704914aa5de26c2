package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/config"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/cache"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/events"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/observability"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/resilience"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/supabase"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/onboarding"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/port"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/service"

	"go.uber.org/zap"
)

// backend is everything the onboarding service needs, wired from config.
type backend struct {
	supabase *supabase.Client
	metrics  *observability.Metrics
	svc      *service.OnboardingService
	closers  []io.Closer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{metrics: observability.NewMetrics()}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("supabase", logger)

	// --- Supabase ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	b.supabase = supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cb,
		resilienceCfg,
		logger,
	)

	// --- Draft cache ---
	var drafts port.DraftCache
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.closers = append(b.closers, rdb)
		drafts = cache.NewRedisDrafts(rdb, cfg.RedisPrefix)
		logger.Info("drafts cached in redis", zap.String("addr", cfg.RedisAddr))
	} else {
		mem := cache.NewMemoryDrafts(cfg.DraftTTL)
		b.closers = append(b.closers, mem)
		drafts = mem
		logger.Warn("REDIS_ADDR not set, drafts cached in memory")
	}

	// --- Events ---
	var publisher port.EventPublisher
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		b.closers = append(b.closers, p)
		publisher = p
	} else {
		publisher = events.NewLogPublisher(logger)
		logger.Warn("AMQP_URL not set, completion events are only logged")
	}

	// --- Service ---
	b.svc = service.NewOnboardingService(
		b.supabase,
		b.supabase,
		drafts,
		publisher,
		b.metrics,
		service.OnboardingConfig{
			DraftTTL:       cfg.DraftTTL,
			SessionIdleTTL: cfg.SessionIdleTTL,
			Autosave: onboarding.AutosaveConfig{
				Debounce:    cfg.AutosaveDebounce,
				MinInterval: cfg.AutosaveMinInterval,
				SaveTimeout: cfg.SaveTimeout,
			},
			DevTools: cfg.DevTools,
		},
		logger,
	)
	return b, nil
}

// Close flushes live sessions, then releases connections in reverse order.
func (b *backend) Close(ctx context.Context) error {
	var errs []error
	if b.svc != nil {
		errs = append(errs, b.svc.Shutdown(ctx))
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}
