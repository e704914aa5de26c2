// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the onboarding
// engine and service layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
)

// ProfileStore reads and partially updates the single profile row per user.
type ProfileStore interface {
	// GetProfile returns nil, nil when the user has no row yet.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	// UpdateProfile applies a partial update. Keys absent from updates are left
	// untouched; keys mapped to nil are written as NULL.
	UpdateProfile(ctx context.Context, userID string, updates map[string]any) error
}

// TemplateStore persists the user's SMS templates.
type TemplateStore interface {
	ListActiveTemplates(ctx context.Context, userID string) ([]domain.SMSTemplateRow, error)
	DeleteTemplates(ctx context.Context, userID string) error
	InsertTemplates(ctx context.Context, rows []domain.SMSTemplateRow) error
}

// DraftCache keeps the working copy of a session between requests and restarts.
type DraftCache interface {
	// GetDraft returns nil, nil on a miss.
	GetDraft(ctx context.Context, userID string) (*domain.Draft, error)
	PutDraft(ctx context.Context, draft *domain.Draft, ttl time.Duration) error
	DeleteDraft(ctx context.Context, userID string) error
}

// EventPublisher announces onboarding lifecycle events to other services.
type EventPublisher interface {
	PublishOnboardingCompleted(ctx context.Context, evt *domain.OnboardingCompletedEvent) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
