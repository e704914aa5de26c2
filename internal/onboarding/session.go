package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("onboarding")

// Hydration sources reported by Session.Hydrate.
const (
	SourceDraft   = "draft"
	SourceProfile = "profile"
)

// Deps are the collaborators a session talks to. Drafts and Recorder are optional.
type Deps struct {
	Profiles  port.ProfileStore
	Templates port.TemplateStore
	Drafts    port.DraftCache
	Recorder  Recorder
	Logger    *zap.Logger
}

// Options tune a session.
type Options struct {
	DraftTTL time.Duration
	Autosave AutosaveConfig
}

// Session is one user's onboarding flow. It owns the state, serialises every
// transition through Reduce, and performs I/O on snapshots outside its lock.
// A session must be closed when the flow ends.
type Session struct {
	deps     Deps
	opts     Options
	logger   *zap.Logger
	autosave *Autosaver

	mu     sync.Mutex
	state  domain.OnboardingState
	saving int
	// templatesKnown is set once the stored template rows have been read or
	// the user has edited the templates section. Until then a nil template
	// list says nothing about the user's rows and must not replace them.
	templatesKnown bool
}

// NewSession creates a session bound to userID. An empty userID leaves the
// session unbound; persistence then fails with a precondition error.
func NewSession(userID string, deps Deps, opts Options) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}

	s := &Session{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With(zap.String("user_id", userID)),
		state:  InitialState(),
	}
	if userID != "" {
		s.state = Reduce(s.state, SetUserID{UserID: &userID})
	}
	s.autosave = NewAutosaver(s.Save, opts.Autosave, deps.Recorder, s.logger)
	return s
}

// ============================================================
// State access
// ============================================================

// Dispatch applies an action and returns the resulting state.
func (s *Session) Dispatch(a Action) domain.OnboardingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, a)
	return CloneState(s.state)
}

// State returns a snapshot of the current state.
func (s *Session) State() domain.OnboardingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneState(s.state)
}

// UserID returns the bound user, or "".
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deref(s.state.UserID)
}

// IsComplete reports whether every required step is recorded valid.
func (s *Session) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return IsOnboardingComplete(s.state.StepValidation)
}

// CompletionPercentage reports progress over the seven steps.
func (s *Session) CompletionPercentage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CompletionPercentage(s.state.StepValidation)
}

// AutosavePending reports whether a background save is scheduled or running.
func (s *Session) AutosavePending() bool {
	return s.autosave.Pending()
}

// ============================================================
// Editing and validation
// ============================================================

// UpdateSection merges data into its section. An unchanged section is a no-op.
// When the section's step was already valid it is revalidated, and a save is
// scheduled if it is still valid.
func (s *Session) UpdateSection(ctx context.Context, data domain.SectionData) domain.OnboardingState {
	ctx, span := tracer.Start(ctx, "Session.UpdateSection")
	defer span.End()
	span.SetAttributes(attribute.String("section", string(data.Section())))

	step := data.Section().Step()

	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, UpdateFormData{Data: data})
	if !domain.SectionChanged(step, prev.FormData, next.FormData) {
		snap := CloneState(prev)
		s.mu.Unlock()
		return snap
	}
	s.state = next

	if data.Section() == domain.SectionSMSTemplates {
		s.templatesKnown = true
	}

	schedule := false
	if v, ok := prev.StepValidation[step]; ok && v.IsValid {
		nv := s.validateLocked(step)
		schedule = nv.IsValid
	}
	snap := CloneState(s.state)
	s.mu.Unlock()

	if schedule {
		s.autosave.Trigger()
	}
	s.putDraft(ctx, snap)
	return snap
}

// ValidateStep validates one step against the current form and records the verdict.
func (s *Session) ValidateStep(step domain.StepID) domain.StepValidation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked(step)
}

// ValidateAll validates and records steps 0 through upTo.
func (s *Session) ValidateAll(upTo domain.StepID) domain.AllStepsValidation {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := ValidateAllSteps(s.state.FormData, upTo)
	for _, v := range all.Steps {
		s.state = Reduce(s.state, SetStepValidation{Validation: v})
		s.deps.Recorder.StepValidated(v.StepID, v.IsValid)
	}
	return all
}

func (s *Session) validateLocked(step domain.StepID) domain.StepValidation {
	v := BuildStepValidation(step, s.state.FormData)
	s.state = Reduce(s.state, SetStepValidation{Validation: v})
	s.deps.Recorder.StepValidated(step, v.IsValid)
	return v
}

// ============================================================
// Navigation
// ============================================================

// SkipToStep moves to any step in range without a validation gate.
// Out-of-range steps return false and leave the state untouched.
func (s *Session) SkipToStep(ctx context.Context, step domain.StepID) bool {
	if !step.InRange() {
		return false
	}
	s.mu.Lock()
	s.activateLocked(step)
	snap := CloneState(s.state)
	s.mu.Unlock()

	s.putDraft(ctx, snap)
	return true
}

// Next validates the current step and advances when it is valid or skippable.
// It returns the current step's verdict and whether the wizard moved.
func (s *Session) Next(ctx context.Context) (domain.StepValidation, bool) {
	s.mu.Lock()
	current := s.state.CurrentStep
	v := s.validateLocked(current)
	if !CanSkipStep(current, &v) || current >= domain.LastStep {
		s.mu.Unlock()
		return v, false
	}
	s.activateLocked(current + 1)
	snap := CloneState(s.state)
	s.mu.Unlock()

	s.putDraft(ctx, snap)
	return v, true
}

// Back moves to the previous step. It returns false on the first step.
func (s *Session) Back(ctx context.Context) bool {
	s.mu.Lock()
	current := s.state.CurrentStep
	if current <= domain.StepWelcome {
		s.mu.Unlock()
		return false
	}
	s.activateLocked(current - 1)
	snap := CloneState(s.state)
	s.mu.Unlock()

	s.putDraft(ctx, snap)
	return true
}

// activateLocked makes step current and rebuilds its validation. Reaching the
// templates step offers the starter set when the user is known to have no
// templates.
func (s *Session) activateLocked(step domain.StepID) {
	s.state = Reduce(s.state, SetCurrentStep{Step: step})
	if step == domain.StepSMSTemplates && s.templatesKnown && s.state.FormData.SMSTemplates == nil {
		name := deref(s.state.FormData.BusinessDetails.BusinessName)
		s.state = Reduce(s.state, UpdateFormData{Data: DefaultTemplates(name)})
	}
	s.validateLocked(step)
}

// ============================================================
// Persistence
// ============================================================

// Save writes the persisted sections to the profile row and, when templates
// exist and the stored rows are known, replaces the user's template rows. On failure the error is recorded
// in the state and returned; form data is never touched.
func (s *Session) Save(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Save")
	defer span.End()

	s.mu.Lock()
	if s.state.UserID == nil {
		s.mu.Unlock()
		return &domain.ErrPrecondition{Operation: "save", Reason: "no user bound to the onboarding session"}
	}
	s.saving++
	s.state = Reduce(s.state, SetLoading{Loading: true})
	s.state = Reduce(s.state, SetError{Message: nil})
	snap := CloneState(s.state)
	replaceTemplates := s.templatesKnown
	s.mu.Unlock()

	start := time.Now()
	err := s.persist(ctx, snap, replaceTemplates)
	s.deps.Recorder.SaveCompleted(time.Since(start), err)

	s.mu.Lock()
	s.saving--
	if err != nil && !errors.Is(err, context.Canceled) {
		msg := readableError("save your progress", err)
		s.state = Reduce(s.state, SetError{Message: &msg})
	}
	if s.saving == 0 {
		s.state = Reduce(s.state, SetLoading{Loading: false})
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("onboarding save failed", zap.Error(err))
		}
		return err
	}
	s.logger.Debug("onboarding saved", zap.Int("step", int(snap.CurrentStep)), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Session) persist(ctx context.Context, snap domain.OnboardingState, replaceTemplates bool) error {
	userID := *snap.UserID
	completed := IsOnboardingComplete(snap.StepValidation)

	update := BuildProfileUpdate(snap.FormData, snap.CurrentStep, completed)
	if err := s.deps.Profiles.UpdateProfile(ctx, userID, update); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	templates := snap.FormData.SMSTemplates
	if len(templates) == 0 {
		return nil
	}
	if !replaceTemplates {
		s.logger.Debug("stored sms templates unknown, leaving them untouched")
		return nil
	}

	// Delete then insert is not atomic: a failure in between leaves the user
	// with no templates until the next successful save.
	s.logger.Info("replacing sms templates", zap.Int("count", len(templates)))
	if err := s.deps.Templates.DeleteTemplates(ctx, userID); err != nil {
		return fmt.Errorf("delete sms templates: %w", err)
	}
	if err := s.deps.Templates.InsertTemplates(ctx, TemplatesToRows(userID, templates, time.Now().UTC())); err != nil {
		return fmt.Errorf("insert sms templates: %w", err)
	}
	return nil
}

// Load hydrates the state from the backend. The profile and template fetches
// run concurrently; a profile failure aborts the load, a template failure is
// only logged.
func (s *Session) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Load")
	defer span.End()

	s.mu.Lock()
	if s.state.UserID == nil {
		s.mu.Unlock()
		return &domain.ErrPrecondition{Operation: "load", Reason: "no user bound to the onboarding session"}
	}
	userID := *s.state.UserID
	s.state = Reduce(s.state, SetLoading{Loading: true})
	s.state = Reduce(s.state, SetError{Message: nil})
	s.mu.Unlock()

	var (
		profile  *domain.Profile
		rows     []domain.SMSTemplateRow
		listedOK bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.deps.Profiles.GetProfile(gctx, userID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		r, err := s.deps.Templates.ListActiveTemplates(gctx, userID)
		if err != nil {
			s.logger.Warn("loading sms templates failed, continuing without them", zap.Error(err))
			return nil
		}
		rows, listedOK = r, true
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.state = Reduce(s.state, SetLoading{Loading: false}) }()

	if err != nil {
		span.RecordError(err)
		msg := readableError("load your onboarding progress", err)
		s.state = Reduce(s.state, SetError{Message: &msg})
		s.logger.Error("onboarding load failed", zap.Error(err))
		return err
	}

	if profile != nil {
		s.state = Reduce(s.state, LoadFromProfile{Profile: *profile})
	}
	if listedOK {
		s.templatesKnown = true
	}
	if len(rows) > 0 {
		s.state = Reduce(s.state, UpdateFormData{Data: RowsToTemplates(rows)})
	}
	s.validateLocked(s.state.CurrentStep)
	return nil
}

// Hydrate restores the session from the draft cache when a draft exists and
// otherwise loads from the backend. It returns which source was used. A draft
// without templates is completed from the stored template rows.
func (s *Session) Hydrate(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "Session.Hydrate")
	defer span.End()

	userID := s.UserID()
	if s.deps.Drafts != nil && userID != "" {
		draft, err := s.deps.Drafts.GetDraft(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn("draft lookup failed, falling back to profile", zap.Error(err))
		case draft != nil:
			s.deps.Recorder.DraftLookup(true)
			s.hydrateDraft(ctx, userID, draft)
			return SourceDraft, nil
		default:
			s.deps.Recorder.DraftLookup(false)
		}
	}

	if err := s.Load(ctx); err != nil {
		return "", err
	}
	return SourceProfile, nil
}

func (s *Session) hydrateDraft(ctx context.Context, userID string, draft *domain.Draft) {
	fd := draft.FormData
	known := fd.SMSTemplates != nil
	if !known {
		rows, err := s.deps.Templates.ListActiveTemplates(ctx, userID)
		if err != nil {
			s.logger.Warn("loading sms templates for draft failed, continuing without them", zap.Error(err))
		} else {
			known = true
			if len(rows) > 0 {
				fd.SMSTemplates = RowsToTemplates(rows)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templatesKnown = known
	s.state = Reduce(s.state, SetFormData{FormData: fd})
	s.state = Reduce(s.state, SetCurrentStep{Step: draft.CurrentStep})
	s.validateLocked(s.state.CurrentStep)
}

// Complete finishes onboarding: it refuses unless every required step is
// valid, saves, marks the profile completed, and drops the draft.
func (s *Session) Complete(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Complete")
	defer span.End()

	s.mu.Lock()
	if s.state.UserID == nil {
		s.mu.Unlock()
		return &domain.ErrPrecondition{Operation: "complete", Reason: "no user bound to the onboarding session"}
	}
	userID := *s.state.UserID
	if missing := MissingRequiredSteps(s.state.StepValidation); len(missing) > 0 {
		s.mu.Unlock()
		return &domain.ErrIncomplete{MissingSteps: missing}
	}
	s.mu.Unlock()

	s.autosave.Cancel()
	if err := s.Save(ctx); err != nil {
		return err
	}

	err := s.deps.Profiles.UpdateProfile(ctx, userID, map[string]any{
		"onboarding_completed": true,
		"onboarding_step":      int(domain.StepComplete),
		"updated_at":           time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		err = fmt.Errorf("mark onboarding completed: %w", err)
		msg := readableError("finish onboarding", err)
		s.Dispatch(SetError{Message: &msg})
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	s.activateLocked(domain.StepComplete)
	s.mu.Unlock()

	s.deleteDraft(ctx)
	s.logger.Info("onboarding completed")
	return nil
}

// Reset clears the flow back to its initial state, keeping the user binding,
// and drops the draft.
func (s *Session) Reset(ctx context.Context) domain.OnboardingState {
	s.autosave.Cancel()

	s.mu.Lock()
	userID := s.state.UserID
	s.templatesKnown = false
	s.state = Reduce(s.state, ResetOnboarding{})
	s.state = Reduce(s.state, SetUserID{UserID: userID})
	snap := CloneState(s.state)
	s.mu.Unlock()

	s.deleteDraft(ctx)
	return snap
}

// Close flushes a scheduled save, lets a running one finish within ctx, and
// then stops the autosaver.
func (s *Session) Close(ctx context.Context) error {
	var flushErr error
	if s.UserID() != "" {
		flushErr = s.autosave.Flush(ctx)
	}
	return errors.Join(flushErr, s.autosave.Close(ctx))
}

// ============================================================
// Draft cache
// ============================================================

func (s *Session) putDraft(ctx context.Context, snap domain.OnboardingState) {
	if s.deps.Drafts == nil || snap.UserID == nil {
		return
	}
	draft := &domain.Draft{
		UserID:      *snap.UserID,
		CurrentStep: snap.CurrentStep,
		FormData:    snap.FormData,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.deps.Drafts.PutDraft(ctx, draft, s.opts.DraftTTL); err != nil {
		s.logger.Warn("caching onboarding draft failed", zap.Error(err))
	}
}

func (s *Session) deleteDraft(ctx context.Context) {
	userID := s.UserID()
	if s.deps.Drafts == nil || userID == "" {
		return
	}
	if err := s.deps.Drafts.DeleteDraft(ctx, userID); err != nil {
		s.logger.Warn("deleting onboarding draft failed", zap.Error(err))
	}
}

// readableError turns a backend failure into the message shown to the user.
func readableError(action string, err error) string {
	var (
		circuit *domain.ErrCircuitOpen
		timeout *domain.ErrTimeout
	)
	switch {
	case errors.As(err, &circuit):
		return fmt.Sprintf("Could not %s: the service is temporarily unavailable. Please try again shortly.", action)
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Could not %s: the request timed out. Please try again.", action)
	}
	return fmt.Sprintf("Could not %s. Please try again.", action)
}
