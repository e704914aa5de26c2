// Package handler implements the HTTP surface of the onboarding BFA.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/observability"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessChecker is a backend the service cannot work without.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the chi router with all routes and middleware.
// svc, verifier and backend may be nil, in which case only the operational
// endpoints are mounted.
func NewRouter(svc *service.OnboardingService, verifier *service.TokenVerifier, backend ReadinessChecker, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(requestDuration(metrics))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc, backend))
	r.Get("/readyz", readyzHandler(backend, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if svc == nil || verifier == nil {
		return r
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/onboarding", onboardingMetricsHandler(svc))

		// =============================================
		// Onboarding wizard (authenticated)
		// =============================================
		r.Route("/onboarding", func(r chi.Router) {
			r.Use(JWTAuthMiddleware(verifier, logger))

			r.Post("/session", startHandler(svc, logger))
			r.Get("/", getStateHandler(svc, logger))
			r.Delete("/", resetHandler(svc, logger))
			r.Patch("/sections/{section}", updateSectionHandler(svc, logger))
			r.Put("/step", setStepHandler(svc, logger))
			r.Post("/next", nextHandler(svc, logger))
			r.Post("/back", backHandler(svc, logger))
			r.Post("/steps/{step}/validate", validateStepHandler(svc, logger))
			r.Get("/validate", validateAllHandler(svc, logger))
			r.Post("/save", saveHandler(svc, logger))
			r.Post("/complete", completeHandler(svc, logger))
			r.Post("/templates/preview", previewTemplateHandler(svc, logger))
		})

		// =============================================
		// Dev tools (DEV_TOOLS=true only)
		// =============================================
		if svc.DevToolsEnabled() {
			logger.Warn("dev tools enabled, mounting /v1/dev routes")
			r.Route("/dev", func(r chi.Router) {
				r.Use(JWTAuthMiddleware(verifier, logger))
				r.Post("/onboarding/fill/{step}", devFillHandler(svc, logger))
			})
		}
	})

	return r
}

func requestDuration(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = r.Method + " " + rc.RoutePattern()
			}
			metrics.RecordRequestDuration(route, time.Since(start))
		})
	}
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(svc *service.OnboardingService, backend ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
		}

		if backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			start := time.Now()
			err := backend.Ping(ctx)
			cancel()
			sh := domain.ServiceHealth{
				Name:        "supabase",
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				sh.Status = "degraded"
				sh.Error = err.Error()
			}
			services = append(services, sh)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		health := domain.HealthStatus{Status: overallStatus, Services: services}
		if svc != nil {
			health.ActiveSessions = svc.ActiveSessions()
		}
		writeJSON(w, http.StatusOK, health)
	}
}

func readyzHandler(backend ReadinessChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := backend.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func onboardingMetricsHandler(svc *service.OnboardingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.MetricsSnapshot())
	}
}
