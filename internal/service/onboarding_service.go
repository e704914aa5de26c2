package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/cache"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/observability"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/onboarding"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var onboardingTracer = otel.Tracer("service/onboarding")

const (
	defaultSessionIdleTTL = 30 * time.Minute
	hydrateTimeout        = 15 * time.Second
	closeTimeout          = 15 * time.Second
)

// OnboardingConfig tunes the onboarding service.
type OnboardingConfig struct {
	DraftTTL       time.Duration
	SessionIdleTTL time.Duration
	Autosave       onboarding.AutosaveConfig
	DevTools       bool
}

// OnboardingService keeps one live onboarding.Session per user. Sessions are
// hydrated on first use, kept while active, and closed on completion, reset,
// idle eviction or shutdown.
type OnboardingService struct {
	profiles  port.ProfileStore
	templates port.TemplateStore
	drafts    port.DraftCache
	events    port.EventPublisher
	metrics   *observability.Metrics
	cfg       OnboardingConfig
	logger    *zap.Logger

	sessions *cache.InMemory[*onboarding.Session]
	loads    singleflight.Group
}

// NewOnboardingService creates the service with all dependencies injected.
// drafts and events may be nil.
func NewOnboardingService(
	profiles port.ProfileStore,
	templates port.TemplateStore,
	drafts port.DraftCache,
	events port.EventPublisher,
	metrics *observability.Metrics,
	cfg OnboardingConfig,
	logger *zap.Logger,
) *OnboardingService {
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = defaultSessionIdleTTL
	}
	s := &OnboardingService{
		profiles:  profiles,
		templates: templates,
		drafts:    drafts,
		events:    events,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
	s.sessions = cache.New[*onboarding.Session](cfg.SessionIdleTTL, cache.WithEvictHook(s.evicted))
	return s
}

// ============================================================
// Session registry
// ============================================================

// acquire returns the user's live session, hydrating a new one when none is
// held. Concurrent first requests for the same user share one hydration. The
// returned source is empty when the session was already live.
func (s *OnboardingService) acquire(ctx context.Context, userID string) (*onboarding.Session, string, error) {
	if sess, ok := s.sessions.Touch(userID); ok {
		return sess, "", nil
	}

	type loaded struct {
		sess   *onboarding.Session
		source string
	}

	v, err, _ := s.loads.Do(userID, func() (any, error) {
		if sess, ok := s.sessions.Touch(userID); ok {
			return loaded{sess: sess}, nil
		}
		// An idle session the sweeper has not reached yet is closed here, so
		// its pending save lands before the new session reads the profile.
		if stale, ok := s.sessions.TakeExpired(userID); ok {
			s.evicted(userID, stale)
		}

		// The hydration is shared by every waiter, so it must not die with
		// the first caller's request.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hydrateTimeout)
		defer cancel()

		sess := onboarding.NewSession(userID, s.sessionDeps(), onboarding.Options{
			DraftTTL: s.cfg.DraftTTL,
			Autosave: s.cfg.Autosave,
		})
		source, err := sess.Hydrate(hctx)
		if err != nil {
			_ = sess.Close(hctx)
			return nil, err
		}

		s.sessions.Set(userID, sess)
		s.metrics.SetActiveSessions(s.sessions.Len())
		s.logger.Info("onboarding session started",
			zap.String("user_id", userID),
			zap.String("source", source),
			zap.Int("step", int(sess.State().CurrentStep)),
		)
		return loaded{sess: sess, source: source}, nil
	})
	if err != nil {
		return nil, "", err
	}
	l := v.(loaded)
	return l.sess, l.source, nil
}

func (s *OnboardingService) sessionDeps() onboarding.Deps {
	return onboarding.Deps{
		Profiles:  s.profiles,
		Templates: s.templates,
		Drafts:    s.drafts,
		Recorder:  s.metrics,
		Logger:    s.logger,
	}
}

// release removes the user's session from the registry and closes it.
func (s *OnboardingService) release(ctx context.Context, userID string, sess *onboarding.Session) {
	s.sessions.Delete(userID)
	s.metrics.SetActiveSessions(s.sessions.Len())

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := sess.Close(cctx); err != nil {
		s.logger.Warn("closing onboarding session failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *OnboardingService) evicted(userID string, sess *onboarding.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := sess.Close(ctx); err != nil {
		s.logger.Warn("closing idle onboarding session failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.metrics.SetActiveSessions(s.sessions.Len())
	s.logger.Info("idle onboarding session evicted", zap.String("user_id", userID))
}

// Shutdown flushes and closes every live session, then stops the registry.
func (s *OnboardingService) Shutdown(ctx context.Context) error {
	var n int
	s.sessions.Range(func(userID string, sess *onboarding.Session) bool {
		s.sessions.Delete(userID)
		if err := sess.Close(ctx); err != nil {
			s.logger.Warn("closing onboarding session on shutdown failed", zap.String("user_id", userID), zap.Error(err))
		}
		n++
		return true
	})
	s.sessions.Close()
	s.metrics.SetActiveSessions(0)
	s.logger.Info("onboarding sessions closed", zap.Int("count", n))
	return ctx.Err()
}

// ============================================================
// Views
// ============================================================

func buildView(st domain.OnboardingState, source string) *domain.OnboardingView {
	view := &domain.OnboardingView{
		State:                st,
		CompletionPercentage: onboarding.CompletionPercentage(st.StepValidation),
		IsComplete:           onboarding.IsOnboardingComplete(st.StepValidation),
		Source:               source,
	}
	var current *domain.StepValidation
	if v, ok := st.StepValidation[st.CurrentStep]; ok {
		current = &v
	}
	view.CanSkipCurrent = onboarding.CanSkipStep(st.CurrentStep, current)
	if next, ok := onboarding.NextValidStep(st.CurrentStep, st.StepValidation, domain.TotalSteps); ok {
		view.NextValidStep = &next
	}
	return view
}

// ============================================================
// Start / Get — POST /v1/onboarding/session, GET /v1/onboarding
// ============================================================

func (s *OnboardingService) Start(ctx context.Context, userID string) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Start")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	sess, source, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("start onboarding: %w", err)
	}
	return buildView(sess.State(), source), nil
}

func (s *OnboardingService) Get(ctx context.Context, userID string) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Get")
	defer span.End()

	sess, source, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return buildView(sess.State(), source), nil
}

// ============================================================
// Editing — PATCH /v1/onboarding/sections/{section}
// ============================================================

func (s *OnboardingService) UpdateSection(ctx context.Context, userID string, data domain.SectionData) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.UpdateSection")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("section", string(data.Section())),
	)

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return buildView(sess.UpdateSection(ctx, data), ""), nil
}

// ============================================================
// Navigation — PUT /v1/onboarding/step, POST /next, POST /back
// ============================================================

func (s *OnboardingService) SetStep(ctx context.Context, userID string, step int) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.SetStep")
	defer span.End()
	span.SetAttributes(attribute.Int("step", step))

	id := domain.StepID(step)
	if !id.InRange() {
		return nil, &domain.ErrValidation{Field: "step", Message: fmt.Sprintf("must be between 0 and %d", domain.LastStep)}
	}

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.SkipToStep(ctx, id)
	return buildView(sess.State(), ""), nil
}

func (s *OnboardingService) Next(ctx context.Context, userID string) (*domain.NavigationResponse, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Next")
	defer span.End()

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	v, moved := sess.Next(ctx)
	return &domain.NavigationResponse{
		View:       *buildView(sess.State(), ""),
		Moved:      moved,
		Validation: &v,
	}, nil
}

func (s *OnboardingService) Back(ctx context.Context, userID string) (*domain.NavigationResponse, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Back")
	defer span.End()

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	moved := sess.Back(ctx)
	return &domain.NavigationResponse{
		View:  *buildView(sess.State(), ""),
		Moved: moved,
	}, nil
}

// ============================================================
// Validation — POST /steps/{step}/validate, GET /validate
// ============================================================

func (s *OnboardingService) ValidateStep(ctx context.Context, userID string, step int) (*domain.StepValidation, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.ValidateStep")
	defer span.End()
	span.SetAttributes(attribute.Int("step", step))

	id := domain.StepID(step)
	if !id.InRange() {
		return nil, &domain.ErrValidation{Field: "step", Message: fmt.Sprintf("must be between 0 and %d", domain.LastStep)}
	}

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := sess.ValidateStep(id)
	return &v, nil
}

// ValidateAll validates steps 0..upTo. A negative upTo means every step.
func (s *OnboardingService) ValidateAll(ctx context.Context, userID string, upTo int) (*domain.AllStepsValidation, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.ValidateAll")
	defer span.End()

	if upTo < 0 {
		upTo = int(domain.LastStep)
	}
	if !domain.StepID(upTo).InRange() {
		return nil, &domain.ErrValidation{Field: "upTo", Message: fmt.Sprintf("must be between 0 and %d", domain.LastStep)}
	}

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	all := sess.ValidateAll(domain.StepID(upTo))
	return &all, nil
}

// ============================================================
// Persistence — POST /save, POST /complete, DELETE
// ============================================================

func (s *OnboardingService) Save(ctx context.Context, userID string) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Save")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.Save(ctx); err != nil {
		return nil, err
	}
	return buildView(sess.State(), ""), nil
}

// Complete revalidates every step up to review, completes the flow, announces
// it and releases the session.
func (s *OnboardingService) Complete(ctx context.Context, userID string) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}

	sess.ValidateAll(domain.StepReview)
	if err := sess.Complete(ctx); err != nil {
		return nil, err
	}
	s.metrics.IncrCompletion()

	st := sess.State()
	s.publishCompleted(ctx, st)
	s.release(ctx, userID, sess)

	return buildView(st, ""), nil
}

func (s *OnboardingService) publishCompleted(ctx context.Context, st domain.OnboardingState) {
	if s.events == nil {
		return
	}
	evt := &domain.OnboardingCompletedEvent{
		EventID:     uuid.NewString(),
		UserID:      *st.UserID,
		Templates:   len(st.FormData.SMSTemplates),
		CompletedAt: time.Now().UTC(),
	}
	if v := st.FormData.BusinessDetails.BusinessName; v != nil {
		evt.BusinessName = *v
	}
	if v := st.FormData.BasicInfo.TradePrimary; v != nil {
		evt.TradePrimary = *v
	}

	if err := s.events.PublishOnboardingCompleted(ctx, evt); err != nil {
		s.logger.Error("publishing onboarding completed event failed",
			zap.String("user_id", evt.UserID),
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)
	}
}

// Reset clears the user's flow and draft and tears down the live session.
func (s *OnboardingService) Reset(ctx context.Context, userID string) (*domain.OnboardingView, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.Reset")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var st domain.OnboardingState
	if sess, ok := s.sessions.Get(userID); ok {
		st = sess.Reset(ctx)
		s.release(ctx, userID, sess)
	} else {
		st = onboarding.Reduce(onboarding.InitialState(), onboarding.SetUserID{UserID: &userID})
		if s.drafts != nil {
			if err := s.drafts.DeleteDraft(ctx, userID); err != nil {
				s.logger.Warn("deleting onboarding draft failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	s.logger.Info("onboarding reset", zap.String("user_id", userID))
	return buildView(st, ""), nil
}

// ============================================================
// Templates — POST /v1/onboarding/templates/preview
// ============================================================

func (s *OnboardingService) PreviewTemplate(req *domain.TemplatePreviewRequest) (*domain.TemplatePreviewResponse, error) {
	if req.Content == "" {
		return nil, &domain.ErrValidation{Field: "content", Message: "is required"}
	}
	resp := onboarding.PreviewTemplate(*req)
	return &resp, nil
}

// ============================================================
// Dev tools — POST /v1/dev/onboarding/fill/{step}
// ============================================================

// DevFill fills the sections of the given steps from a preset and validates
// them. An empty steps list fills every section.
func (s *OnboardingService) DevFill(ctx context.Context, userID string, steps []domain.StepID, preset string) (*domain.DevFillResponse, error) {
	ctx, span := onboardingTracer.Start(ctx, "OnboardingService.DevFill")
	defer span.End()

	if !s.cfg.DevTools {
		return nil, &domain.ErrForbidden{Action: "dev tools are disabled"}
	}
	if preset == "" {
		preset = onboarding.DefaultPreset
	}
	if len(steps) == 0 {
		steps = []domain.StepID{domain.StepBasicInfo, domain.StepBusinessDetails, domain.StepServiceArea, domain.StepSMSTemplates}
	}

	sess, _, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}

	filled := make([]domain.StepID, 0, len(steps))
	for _, step := range steps {
		if !step.InRange() {
			return nil, &domain.ErrValidation{Field: "step", Message: fmt.Sprintf("must be between 0 and %d", domain.LastStep)}
		}
		data, err := onboarding.MockSection(step, preset)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		sess.UpdateSection(ctx, data)
		sess.ValidateStep(step)
		filled = append(filled, step)
	}

	s.logger.Debug("dev fill applied",
		zap.String("user_id", userID),
		zap.String("preset", preset),
		zap.Int("steps", len(filled)),
	)
	return &domain.DevFillResponse{
		View:   *buildView(sess.State(), ""),
		Preset: preset,
		Steps:  filled,
	}, nil
}

// DevToolsEnabled reports whether dev routes should be mounted.
func (s *OnboardingService) DevToolsEnabled() bool { return s.cfg.DevTools }

// ============================================================
// Metrics — GET /v1/metrics/onboarding
// ============================================================

func (s *OnboardingService) MetricsSnapshot() *domain.OnboardingMetrics {
	return s.metrics.OnboardingSnapshot()
}

// ActiveSessions returns the number of sessions held in memory.
func (s *OnboardingService) ActiveSessions() int {
	return s.sessions.Len()
}
