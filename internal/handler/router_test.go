package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/handler"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/cache"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/events"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/observability"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/onboarding"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]map[string]any
}

func (m *memProfiles) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	p := &domain.Profile{}
	return p, json.Unmarshal(raw, p)
}

func (m *memProfiles) UpdateProfile(_ context.Context, userID string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[userID]
	if !ok {
		row = map[string]any{"id": userID}
		m.rows[userID] = row
	}
	for k, v := range updates {
		row[k] = v
	}
	return nil
}

type memTemplates struct {
	mu   sync.Mutex
	rows map[string][]domain.SMSTemplateRow
}

func (m *memTemplates) ListActiveTemplates(_ context.Context, userID string) ([]domain.SMSTemplateRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SMSTemplateRow(nil), m.rows[userID]...), nil
}

func (m *memTemplates) DeleteTemplates(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, userID)
	return nil
}

func (m *memTemplates) InsertTemplates(_ context.Context, rows []domain.SMSTemplateRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[r.UserID] = append(m.rows[r.UserID], r)
	}
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// --- Fixture ---

type api struct {
	t       *testing.T
	router  http.Handler
	token   string
	metrics *observability.Metrics
}

func newAPI(t *testing.T, devTools bool) *api {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	drafts := cache.NewMemoryDrafts(time.Hour)

	svc := service.NewOnboardingService(
		&memProfiles{rows: map[string]map[string]any{}},
		&memTemplates{rows: map[string][]domain.SMSTemplateRow{}},
		drafts,
		events.NewLogPublisher(logger),
		metrics,
		service.OnboardingConfig{
			DraftTTL:       time.Hour,
			SessionIdleTTL: time.Hour,
			Autosave:       onboarding.AutosaveConfig{Debounce: time.Hour, SaveTimeout: time.Second},
			DevTools:       devTools,
		},
		logger,
	)
	t.Cleanup(func() {
		svc.Shutdown(context.Background())
		drafts.Close()
	})

	verifier := service.NewTokenVerifier("test-secret", "authenticated")
	token, err := verifier.Sign("user-1", time.Hour)
	require.NoError(t, err)

	return &api{
		t:       t,
		router:  handler.NewRouter(svc, verifier, pinger{}, metrics, logger),
		token:   token,
		metrics: metrics,
	}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// --- Operational endpoints ---

func TestHealthz(t *testing.T) {
	router := handler.NewRouter(nil, nil, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthz_DegradedBackend(t *testing.T) {
	router := handler.NewRouter(nil, nil, pinger{err: errors.New("connection refused")}, observability.NewMetrics(), zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	health := decode[domain.HealthStatus](t, rec)
	assert.Equal(t, "degraded", health.Status)
	require.Len(t, health.Services, 2)
	assert.Equal(t, "connection refused", health.Services[1].Error)
}

func TestReadyz(t *testing.T) {
	router := handler.NewRouter(nil, nil, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_BackendDown(t *testing.T) {
	router := handler.NewRouter(nil, nil, pinger{err: errors.New("down")}, observability.NewMetrics(), zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := handler.NewRouter(nil, nil, nil, observability.NewMetrics(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// --- Auth ---

func TestOnboarding_RequiresToken(t *testing.T) {
	a := newAPI(t, false)

	for _, header := range []string{"", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/onboarding", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

// --- Onboarding flow ---

func TestOnboarding_SessionAndSections(t *testing.T) {
	a := newAPI(t, false)

	rec := a.do(http.MethodPost, "/v1/onboarding/session", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[domain.OnboardingView](t, rec)
	assert.Equal(t, domain.StepWelcome, view.State.CurrentStep)
	require.NotNil(t, view.State.UserID)
	assert.Equal(t, "user-1", *view.State.UserID)

	rec = a.do(http.MethodPatch, "/v1/onboarding/sections/basicInfo", domain.BasicInfo{Name: domain.Ptr("Mike Jones")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decode[domain.OnboardingView](t, rec)
	require.NotNil(t, view.State.FormData.BasicInfo.Name)
	assert.Equal(t, "Mike Jones", *view.State.FormData.BasicInfo.Name)

	rec = a.do(http.MethodPost, "/v1/onboarding/steps/1/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sv := decode[domain.StepValidation](t, rec)
	assert.False(t, sv.IsValid)
	assert.NotEmpty(t, sv.Errors)

	rec = a.do(http.MethodPatch, "/v1/onboarding/sections/nope", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPatch, "/v1/onboarding/sections/basicInfo", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnboarding_Navigation(t *testing.T) {
	a := newAPI(t, false)

	rec := a.do(http.MethodPost, "/v1/onboarding/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nav := decode[domain.NavigationResponse](t, rec)
	assert.True(t, nav.Moved)
	assert.Equal(t, domain.StepBasicInfo, nav.View.State.CurrentStep)

	// Basic info is empty, so the wizard stays put and reports why.
	rec = a.do(http.MethodPost, "/v1/onboarding/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nav = decode[domain.NavigationResponse](t, rec)
	assert.False(t, nav.Moved)
	require.NotNil(t, nav.Validation)
	assert.False(t, nav.Validation.IsValid)

	rec = a.do(http.MethodPost, "/v1/onboarding/back", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nav = decode[domain.NavigationResponse](t, rec)
	assert.Equal(t, domain.StepWelcome, nav.View.State.CurrentStep)

	rec = a.do(http.MethodPut, "/v1/onboarding/step", domain.SetStepRequest{Step: 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/onboarding/steps/abc/validate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnboarding_CompleteIncomplete(t *testing.T) {
	a := newAPI(t, false)

	rec := a.do(http.MethodPost, "/v1/onboarding/complete", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body struct {
		Error        string   `json:"error"`
		MissingSteps []string `json:"missingSteps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"basic_info", "business_details", "service_area"}, body.MissingSteps)
}

func TestOnboarding_DevFillAndComplete(t *testing.T) {
	a := newAPI(t, true)

	rec := a.do(http.MethodPost, "/v1/dev/onboarding/fill/all", domain.DevFillRequest{Preset: "electrician"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fill := decode[domain.DevFillResponse](t, rec)
	assert.Equal(t, "electrician", fill.Preset)
	assert.Len(t, fill.Steps, 4)

	rec = a.do(http.MethodGet, "/v1/onboarding/validate?upTo=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[domain.AllStepsValidation](t, rec)
	assert.True(t, all.Valid, "%+v", all)

	rec = a.do(http.MethodPost, "/v1/onboarding/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[domain.OnboardingView](t, rec)
	assert.True(t, view.IsComplete)
	assert.Equal(t, domain.StepComplete, view.State.CurrentStep)

	rec = a.do(http.MethodGet, "/v1/metrics/onboarding", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[domain.OnboardingMetrics](t, rec)
	assert.EqualValues(t, 1, snap.Completions)
}

func TestOnboarding_DevRoutesHiddenByDefault(t *testing.T) {
	a := newAPI(t, false)

	rec := a.do(http.MethodPost, "/v1/dev/onboarding/fill/all", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOnboarding_ResetAndPreview(t *testing.T) {
	a := newAPI(t, false)

	a.do(http.MethodPatch, "/v1/onboarding/sections/basicInfo", domain.BasicInfo{Name: domain.Ptr("Mike")})

	rec := a.do(http.MethodDelete, "/v1/onboarding", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[domain.OnboardingView](t, rec)
	assert.Nil(t, view.State.FormData.BasicInfo.Name)

	rec = a.do(http.MethodPost, "/v1/onboarding/templates/preview", domain.TemplatePreviewRequest{
		Content: "Hi {customer_name}, {business_name} here.",
		Values:  map[string]string{"customer_name": "Sam"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[domain.TemplatePreviewResponse](t, rec)
	assert.Contains(t, preview.Rendered, "Hi Sam")
	assert.Equal(t, 1, preview.Segments)

	rec = a.do(http.MethodPost, "/v1/onboarding/templates/preview", domain.TemplatePreviewRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
