package onboarding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
)

// fakeProfiles applies partial updates the way PostgREST does: absent keys are
// kept, null keys are cleared.
type fakeProfiles struct {
	mu        sync.Mutex
	rows      map[string]*domain.Profile
	updates   []map[string]any
	getErr    error
	updateErr error
	delay     time.Duration
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: map[string]*domain.Profile{}}
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) UpdateProfile(ctx context.Context, userID string, updates map[string]any) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updates)

	p, ok := f.rows[userID]
	if !ok {
		p = &domain.Profile{ID: userID}
		f.rows[userID] = p
	}
	raw, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, p)
}

func (f *fakeProfiles) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeProfiles) fullName(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[userID]; ok && p.FullName != nil {
		return *p.FullName
	}
	return ""
}

func (f *fakeProfiles) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeTemplates struct {
	mu        sync.Mutex
	rows      map[string][]domain.SMSTemplateRow
	calls     []string
	listErr   error
	deleteErr error
	insertErr error
}

func newFakeTemplates() *fakeTemplates {
	return &fakeTemplates{rows: map[string][]domain.SMSTemplateRow{}}
}

func (f *fakeTemplates) ListActiveTemplates(_ context.Context, userID string) ([]domain.SMSTemplateRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.SMSTemplateRow(nil), f.rows[userID]...), nil
}

func (f *fakeTemplates) DeleteTemplates(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, userID)
	return nil
}

func (f *fakeTemplates) InsertTemplates(_ context.Context, rows []domain.SMSTemplateRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert")
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, r := range rows {
		f.rows[r.UserID] = append(f.rows[r.UserID], r)
	}
	return nil
}

func (f *fakeTemplates) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDrafts struct {
	mu     sync.Mutex
	drafts map[string]domain.Draft
	puts   int
	getErr error
}

func newFakeDrafts() *fakeDrafts {
	return &fakeDrafts{drafts: map[string]domain.Draft{}}
}

func (f *fakeDrafts) GetDraft(_ context.Context, userID string) (*domain.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.drafts[userID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeDrafts) PutDraft(_ context.Context, d *domain.Draft, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.drafts[d.UserID] = *d
	return nil
}

func (f *fakeDrafts) DeleteDraft(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, userID)
	return nil
}

func (f *fakeDrafts) has(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.drafts[userID]
	return ok
}

func (f *fakeDrafts) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}
