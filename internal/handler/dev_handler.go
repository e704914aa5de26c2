package handler

import (
	"net/http"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// POST /v1/dev/onboarding/fill/{step}
// {step} is a step index or "all".
func devFillHandler(svc *service.OnboardingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var steps []domain.StepID
		if raw := chi.URLParam(r, "step"); raw != "all" {
			n, err := parseStep(raw, "step")
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			steps = []domain.StepID{domain.StepID(n)}
		}

		var req domain.DevFillRequest
		if err := decodeJSON(r, &req, true); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := svc.DevFill(r.Context(), UserIDFromContext(r.Context()), steps, req.Preset)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
