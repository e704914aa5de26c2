package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missingSteps,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a size-limited JSON body into dst. An empty body is
// accepted when allowEmpty is set and leaves dst untouched.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return &domain.ErrValidation{Field: "body", Message: "request body is required"}
	}
	return &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
}

// decodeSection decodes the body of a section PATCH into the section's type.
func decodeSection(r *http.Request, section domain.Section) (domain.SectionData, error) {
	var data domain.SectionData
	var err error
	switch section {
	case domain.SectionBasicInfo:
		var v domain.BasicInfo
		err = decodeJSON(r, &v, false)
		data = v
	case domain.SectionBusinessDetails:
		var v domain.BusinessDetails
		err = decodeJSON(r, &v, false)
		data = v
	case domain.SectionServiceArea:
		var v domain.ServiceArea
		err = decodeJSON(r, &v, false)
		data = v
	case domain.SectionSMSTemplates:
		var v domain.SMSTemplates
		err = decodeJSON(r, &v, false)
		if v == nil {
			v = domain.SMSTemplates{}
		}
		data = v
	default:
		return nil, &domain.ErrNotFound{Resource: "section", ID: string(section)}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// parseStep reads a step index from a path or query value.
func parseStep(raw, field string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ErrValidation{Field: field, Message: "must be an integer"}
	}
	return n, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var precondition *domain.ErrPrecondition
	var incomplete *domain.ErrIncomplete
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &precondition):
		logger.Warn("precondition failed", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &incomplete):
		logger.Debug("onboarding incomplete", zap.Any("missing_steps", incomplete.MissingSteps))
		missing := make([]string, len(incomplete.MissingSteps))
		for i, s := range incomplete.MissingSteps {
			missing[i] = s.String()
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Missing: missing})
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, context.Canceled):
		logger.Debug("request cancelled", zap.Error(err))
		writeError(w, 499, "request cancelled")
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream service error")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
