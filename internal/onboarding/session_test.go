package onboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sessionFixture struct {
	session   *Session
	profiles  *fakeProfiles
	templates *fakeTemplates
	drafts    *fakeDrafts
	rec       *countingRecorder
}

func newFixture(t *testing.T, userID string) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		profiles:  newFakeProfiles(),
		templates: newFakeTemplates(),
		drafts:    newFakeDrafts(),
		rec:       &countingRecorder{},
	}
	f.session = f.open(userID)
	t.Cleanup(func() { _ = f.session.Close(context.Background()) })
	return f
}

// open starts another session over the same stores.
func (f *sessionFixture) open(userID string) *Session {
	return NewSession(userID, Deps{
		Profiles:  f.profiles,
		Templates: f.templates,
		Drafts:    f.drafts,
		Recorder:  f.rec,
		Logger:    zap.NewNop(),
	}, Options{DraftTTL: time.Hour, Autosave: fastAutosave()})
}

func fillRequired(t *testing.T, s *Session, preset string) domain.FormData {
	t.Helper()
	fd, err := MockFormData(preset)
	require.NoError(t, err)
	ctx := context.Background()
	s.UpdateSection(ctx, fd.BasicInfo)
	s.UpdateSection(ctx, fd.BusinessDetails)
	s.UpdateSection(ctx, fd.ServiceArea)
	return fd
}

func TestSession_PreconditionWithoutUser(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	var pre *domain.ErrPrecondition
	assert.True(t, errors.As(f.session.Save(ctx), &pre))
	assert.True(t, errors.As(f.session.Load(ctx), &pre))
	assert.True(t, errors.As(f.session.Complete(ctx), &pre))
	assert.Zero(t, f.profiles.updateCount())
}

func TestSession_SaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	saved := fillRequired(t, f.session, "plumber")
	require.True(t, f.session.SkipToStep(ctx, domain.StepServiceArea))

	require.NoError(t, f.session.Save(ctx))

	fresh := f.open("user-1")
	defer fresh.Close(ctx)
	require.NoError(t, fresh.Load(ctx))
	got := fresh.State()

	if diff := cmp.Diff(saved.BasicInfo, got.FormData.BasicInfo); diff != "" {
		t.Errorf("basic info mismatch (-saved +loaded):\n%s", diff)
	}
	if diff := cmp.Diff(saved.BusinessDetails, got.FormData.BusinessDetails); diff != "" {
		t.Errorf("business details mismatch (-saved +loaded):\n%s", diff)
	}
	assert.Equal(t, saved.ServiceArea.AreaType, got.FormData.ServiceArea.AreaType)
	assert.Equal(t, saved.ServiceArea.ServicePostcodes, got.FormData.ServiceArea.ServicePostcodes)
	assert.Nil(t, got.FormData.ServiceArea.ServiceRadiusKm)
	assert.Equal(t, domain.StepServiceArea, got.CurrentStep)
	assert.False(t, got.IsLoading)
}

func TestSession_SaveKeepsUndefinedBackendValues(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	f.profiles.rows["user-1"] = &domain.Profile{ID: "user-1", LicenseNumber: domain.Ptr("PL-1"), FullName: domain.Ptr("Old Name")}

	f.session.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("New Name")})
	require.NoError(t, f.session.Save(ctx))

	p := f.profiles.rows["user-1"]
	assert.Equal(t, "New Name", *p.FullName)
	assert.Equal(t, "PL-1", *p.LicenseNumber)
}

func TestSession_SaveReplacesTemplates(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()

	require.NoError(t, f.session.Save(ctx))
	assert.Empty(t, f.templates.callLog(), "no templates, no template writes")

	f.session.UpdateSection(ctx, DefaultTemplates("Thompson Plumbing"))
	require.NoError(t, f.session.Save(ctx))
	require.NoError(t, f.session.Save(ctx))

	assert.Equal(t, []string{"delete", "insert", "delete", "insert"}, f.templates.callLog())
	assert.Len(t, f.templates.rows["user-1"], len(domain.TemplateTypes))
}

func TestSession_SaveFailureKeepsFormData(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	fillRequired(t, f.session, "plumber")
	before := f.session.State().FormData

	f.profiles.updateErr = &domain.ErrExternalService{Service: "supabase", Err: errors.New("503")}
	err := f.session.Save(ctx)

	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext))
	st := f.session.State()
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "save your progress")
	assert.False(t, st.IsLoading)
	if diff := cmp.Diff(before, st.FormData); diff != "" {
		t.Errorf("form data changed after failed save:\n%s", diff)
	}

	f.profiles.updateErr = nil
	require.NoError(t, f.session.Save(ctx), "retry is a plain resubmission")
	assert.Nil(t, f.session.State().Error)
}

func TestSession_SaveFailsOnTemplateInsert(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	f.session.UpdateSection(ctx, DefaultTemplates(""))
	f.templates.insertErr = errors.New("insert failed")

	require.Error(t, f.session.Save(ctx))
	assert.Empty(t, f.templates.rows["user-1"], "delete already ran")
	require.NotNil(t, f.session.State().Error)
}

func TestSession_LoadToleratesTemplateFailure(t *testing.T) {
	f := newFixture(t, "user-1")
	step := 2
	f.profiles.rows["user-1"] = &domain.Profile{ID: "user-1", FullName: domain.Ptr("Mike"), OnboardingStep: &step}
	f.templates.listErr = errors.New("templates down")

	require.NoError(t, f.session.Load(context.Background()))

	st := f.session.State()
	assert.Equal(t, "Mike", *st.FormData.BasicInfo.Name)
	assert.Equal(t, domain.StepBusinessDetails, st.CurrentStep)
	assert.Nil(t, st.Error)
	assert.Nil(t, st.FormData.SMSTemplates)
}

func TestSession_LoadProfileFailureAborts(t *testing.T) {
	f := newFixture(t, "user-1")
	f.profiles.getErr = &domain.ErrTimeout{Operation: "GET profiles"}

	err := f.session.Load(context.Background())

	var to *domain.ErrTimeout
	require.True(t, errors.As(err, &to))
	st := f.session.State()
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "timed out")
	assert.False(t, st.IsLoading)
	assert.Nil(t, st.FormData.BasicInfo.Name)
}

func TestSession_LoadWithoutProfileRowKeepsEmptyState(t *testing.T) {
	f := newFixture(t, "user-1")
	require.NoError(t, f.session.Load(context.Background()))
	st := f.session.State()
	assert.Equal(t, domain.StepWelcome, st.CurrentStep)
	assert.Nil(t, st.FormData.BasicInfo.Name)
}

func TestSession_LoadHydratesTemplates(t *testing.T) {
	f := newFixture(t, "user-1")
	f.profiles.rows["user-1"] = &domain.Profile{ID: "user-1"}
	f.templates.rows["user-1"] = TemplatesToRows("user-1", DefaultTemplates("X"), time.Now())

	require.NoError(t, f.session.Load(context.Background()))
	assert.Len(t, f.session.State().FormData.SMSTemplates, len(domain.TemplateTypes))
}

func TestSession_CompleteRequiresRequiredSteps(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	f.session.UpdateSection(ctx, validBasicInfo())
	f.session.ValidateStep(domain.StepBasicInfo)

	err := f.session.Complete(ctx)

	var inc *domain.ErrIncomplete
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, []domain.StepID{domain.StepBusinessDetails, domain.StepServiceArea}, inc.MissingSteps)
	assert.Zero(t, f.profiles.updateCount())
}

func TestSession_Complete(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	fillRequired(t, f.session, "electrician")
	require.True(t, f.session.ValidateAll(domain.StepReview).Valid)
	require.True(t, f.drafts.has("user-1"))

	require.NoError(t, f.session.Complete(ctx))

	p := f.profiles.rows["user-1"]
	assert.True(t, p.OnboardingCompleted)
	require.NotNil(t, p.OnboardingStep)
	assert.Equal(t, int(domain.StepComplete), *p.OnboardingStep)
	assert.Equal(t, domain.AreaTypeRadius, *p.ServiceAreaType)
	assert.Nil(t, p.ServicePostcodes)

	st := f.session.State()
	assert.Equal(t, domain.StepComplete, st.CurrentStep)
	assert.True(t, f.session.IsComplete())
	assert.False(t, f.drafts.has("user-1"), "draft dropped on completion")
}

func TestSession_CompleteMarkFailure(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	fillRequired(t, f.session, "plumber")
	f.session.ValidateAll(domain.StepReview)

	require.NoError(t, f.session.Save(ctx))
	f.profiles.updateErr = errors.New("down")

	require.Error(t, f.session.Complete(ctx))
	assert.NotEqual(t, domain.StepComplete, f.session.State().CurrentStep)
	assert.True(t, f.drafts.has("user-1"))
}

func TestSession_UpdateSectionAutosavesWhenStillValid(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()

	f.session.UpdateSection(ctx, validBasicInfo())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.profiles.updateCount(), "step never validated, no autosave")

	require.True(t, f.session.ValidateStep(domain.StepBasicInfo).IsValid)
	f.session.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("Mike T")})

	require.Eventually(t, func() bool { return f.profiles.updateCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Mike T", *f.profiles.rows["user-1"].FullName)

	f.session.UpdateSection(ctx, domain.BasicInfo{Phone: domain.Ptr("bogus")})
	v := f.session.State().StepValidation[domain.StepBasicInfo]
	assert.False(t, v.IsValid, "revalidated while valid")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.profiles.updateCount(), "invalid edits are not autosaved")
	assert.GreaterOrEqual(t, f.rec.snapshot().triggered, 1)
}

func TestSession_UpdateSectionUnchangedIsNoop(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()

	f.session.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("Mike")})
	puts := f.drafts.putCount()
	f.session.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("Mike")})
	f.session.UpdateSection(ctx, domain.BasicInfo{})

	assert.Equal(t, puts, f.drafts.putCount())
}

func TestSession_Navigation(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	s := f.session
	require.NoError(t, s.Load(ctx))

	assert.False(t, s.Back(ctx), "already on the first step")

	v, moved := s.Next(ctx)
	assert.True(t, v.IsValid)
	require.True(t, moved)
	assert.Equal(t, domain.StepBasicInfo, s.State().CurrentStep)

	v, moved = s.Next(ctx)
	assert.False(t, moved, "empty basic info blocks navigation")
	assert.False(t, v.IsValid)
	assert.NotEmpty(t, v.Errors)

	s.UpdateSection(ctx, validBasicInfo())
	_, moved = s.Next(ctx)
	require.True(t, moved)
	assert.Equal(t, domain.StepBusinessDetails, s.State().CurrentStep)

	assert.False(t, s.SkipToStep(ctx, 7))
	assert.False(t, s.SkipToStep(ctx, -1))
	assert.Equal(t, domain.StepBusinessDetails, s.State().CurrentStep)

	require.True(t, s.SkipToStep(ctx, domain.StepSMSTemplates))
	st := s.State()
	assert.Len(t, st.FormData.SMSTemplates, len(domain.TemplateTypes), "starter templates offered")
	assert.True(t, st.StepValidation[domain.StepSMSTemplates].IsValid)

	require.True(t, s.Back(ctx))
	assert.Equal(t, domain.StepServiceArea, s.State().CurrentStep)
}

func TestSession_HydratePrefersDraft(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	f.drafts.drafts["user-1"] = domain.Draft{
		UserID:      "user-1",
		CurrentStep: domain.StepBusinessDetails,
		FormData:    domain.FormData{BasicInfo: domain.BasicInfo{Name: domain.Ptr("From Draft")}},
	}
	f.profiles.rows["user-1"] = &domain.Profile{ID: "user-1", FullName: domain.Ptr("From Profile")}

	src, err := f.session.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceDraft, src)
	assert.Equal(t, "From Draft", *f.session.State().FormData.BasicInfo.Name)
	assert.Equal(t, domain.StepBusinessDetails, f.session.State().CurrentStep)

	other := f.open("user-2")
	defer other.Close(ctx)
	f.profiles.rows["user-2"] = &domain.Profile{ID: "user-2", FullName: domain.Ptr("From Profile")}
	src, err = other.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceProfile, src)
	assert.Equal(t, "From Profile", *other.State().FormData.BasicInfo.Name)

	counts := f.rec.snapshot()
	assert.Equal(t, 1, counts.draftHits)
	assert.Equal(t, 1, counts.draftMiss)
}

func TestSession_StarterTemplatesNeedAnEmptyTemplateList(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()

	require.True(t, f.session.SkipToStep(ctx, domain.StepSMSTemplates))
	assert.Nil(t, f.session.State().FormData.SMSTemplates, "stored templates were never read")
}

func TestSession_FailedTemplateLoadKeepsStoredTemplates(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	custom := customTemplates()
	f.profiles.rows["user-1"] = &domain.Profile{ID: "user-1"}
	f.templates.rows["user-1"] = TemplatesToRows("user-1", custom, time.Now())
	f.templates.listErr = errors.New("templates down")

	require.NoError(t, f.session.Load(ctx))
	require.True(t, f.session.SkipToStep(ctx, domain.StepSMSTemplates))
	assert.Nil(t, f.session.State().FormData.SMSTemplates, "no starter set over unread templates")
	require.NoError(t, f.session.Save(ctx))

	rows := f.templates.rows["user-1"]
	require.Len(t, rows, 1)
	assert.Equal(t, custom[0].Content, rows[0].Content)
	assert.NotContains(t, f.templates.callLog(), "delete")
}

func TestSession_FailedTemplateLoadStillSavesUserEdits(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	f.templates.rows["user-1"] = TemplatesToRows("user-1", customTemplates(), time.Now())
	f.templates.listErr = errors.New("templates down")
	require.NoError(t, f.session.Load(ctx))

	f.session.UpdateSection(ctx, DefaultTemplates("Thompson Plumbing"))
	require.NoError(t, f.session.Save(ctx))

	assert.Len(t, f.templates.rows["user-1"], len(domain.TemplateTypes))
}

func TestSession_DraftWithoutTemplatesPicksUpStoredRows(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	custom := customTemplates()
	f.templates.rows["user-1"] = TemplatesToRows("user-1", custom, time.Now())
	f.drafts.drafts["user-1"] = domain.Draft{
		UserID:      "user-1",
		CurrentStep: domain.StepServiceArea,
		FormData:    domain.FormData{BasicInfo: domain.BasicInfo{Name: domain.Ptr("From Draft")}},
	}

	src, err := f.session.Hydrate(ctx)
	require.NoError(t, err)
	require.Equal(t, SourceDraft, src)
	if diff := cmp.Diff(custom, f.session.State().FormData.SMSTemplates); diff != "" {
		t.Errorf("draft not completed from stored templates:\n%s", diff)
	}

	require.True(t, f.session.SkipToStep(ctx, domain.StepSMSTemplates))
	require.NoError(t, f.session.Save(ctx))

	rows := f.templates.rows["user-1"]
	require.Len(t, rows, 1)
	assert.Equal(t, custom[0].Content, rows[0].Content)
}

func TestSession_DraftWithUnreadableTemplatesKeepsStoredRows(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	custom := customTemplates()
	f.templates.rows["user-1"] = TemplatesToRows("user-1", custom, time.Now())
	f.templates.listErr = errors.New("templates down")
	f.drafts.drafts["user-1"] = domain.Draft{UserID: "user-1", CurrentStep: domain.StepServiceArea}

	src, err := f.session.Hydrate(ctx)
	require.NoError(t, err)
	require.Equal(t, SourceDraft, src)

	require.True(t, f.session.SkipToStep(ctx, domain.StepSMSTemplates))
	assert.Nil(t, f.session.State().FormData.SMSTemplates)
	require.NoError(t, f.session.Save(ctx))

	rows := f.templates.rows["user-1"]
	require.Len(t, rows, 1)
	assert.Equal(t, custom[0].Content, rows[0].Content)
	assert.NotContains(t, f.templates.callLog(), "delete")
}

func customTemplates() domain.SMSTemplates {
	return domain.SMSTemplates{{
		TemplateType: domain.TemplateOnTheWay,
		Content:      "Mike here {customer_name}, on my way now",
		Variables:    []string{"customer_name"},
	}}
}

func TestSession_HydrateFallsBackWhenDraftCacheFails(t *testing.T) {
	f := newFixture(t, "user-1")
	f.drafts.getErr = errors.New("redis down")
	f.profiles.rows["user-1"] = &domain.Profile{ID: "user-1", FullName: domain.Ptr("Mike")}

	src, err := f.session.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceProfile, src)
}

func TestSession_ResetKeepsUserAndDropsDraft(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	fillRequired(t, f.session, "plumber")
	require.True(t, f.drafts.has("user-1"))

	st := f.session.Reset(ctx)

	require.NotNil(t, st.UserID)
	assert.Equal(t, "user-1", *st.UserID)
	assert.Nil(t, st.FormData.BasicInfo.Name)
	assert.Empty(t, st.StepValidation)
	assert.False(t, f.drafts.has("user-1"))
}

func TestSession_CloseFlushesPendingAutosave(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	s := f.open("user-1")
	s.autosave.cfg.Debounce = time.Hour

	s.UpdateSection(ctx, validBasicInfo())
	s.ValidateStep(domain.StepBasicInfo)
	s.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("Mike Flushed")})
	require.True(t, s.AutosavePending())

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, "Mike Flushed", *f.profiles.rows["user-1"].FullName)
}

func TestSession_CloseWaitsForRunningAutosave(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	s := f.open("user-1")
	s.autosave.cfg.Debounce = 5 * time.Millisecond

	s.UpdateSection(ctx, validBasicInfo())
	s.ValidateStep(domain.StepBasicInfo)
	f.profiles.setDelay(100 * time.Millisecond)
	s.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("Last Edit")})

	time.Sleep(30 * time.Millisecond)
	require.True(t, s.AutosavePending(), "save should be running")

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, "Last Edit", f.profiles.fullName("user-1"))
}

func TestSession_CloseGivesUpOnSlowAutosaveAtDeadline(t *testing.T) {
	f := newFixture(t, "user-1")
	ctx := context.Background()
	s := f.open("user-1")
	s.autosave.cfg.Debounce = 5 * time.Millisecond

	s.UpdateSection(ctx, validBasicInfo())
	s.ValidateStep(domain.StepBasicInfo)
	f.profiles.setDelay(time.Second)
	s.UpdateSection(ctx, domain.BasicInfo{Name: domain.Ptr("Too Slow")})
	time.Sleep(30 * time.Millisecond)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.Close(cctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
