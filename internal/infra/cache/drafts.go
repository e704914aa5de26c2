package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/port"

	"github.com/redis/go-redis/v9"
)

var (
	_ port.DraftCache     = (*MemoryDrafts)(nil)
	_ port.DraftCache     = (*RedisDrafts)(nil)
	_ port.Cache[string] = (*InMemory[string])(nil)
)

// ============================================================
// MemoryDrafts — single-instance fallback
// ============================================================

// MemoryDrafts keeps drafts in process memory.
type MemoryDrafts struct {
	c *InMemory[domain.Draft]
}

// NewMemoryDrafts creates an in-memory draft cache with a default TTL.
func NewMemoryDrafts(ttl time.Duration) *MemoryDrafts {
	return &MemoryDrafts{c: New[domain.Draft](ttl)}
}

func (m *MemoryDrafts) GetDraft(_ context.Context, userID string) (*domain.Draft, error) {
	d, ok := m.c.Get(userID)
	if !ok {
		return nil, nil
	}
	d.FormData = d.FormData.Clone()
	return &d, nil
}

func (m *MemoryDrafts) PutDraft(_ context.Context, draft *domain.Draft, ttl time.Duration) error {
	d := *draft
	d.FormData = d.FormData.Clone()
	m.c.SetWithTTL(d.UserID, d, ttl)
	return nil
}

func (m *MemoryDrafts) DeleteDraft(_ context.Context, userID string) error {
	m.c.Delete(userID)
	return nil
}

// Close stops the sweeper.
func (m *MemoryDrafts) Close() error {
	m.c.Close()
	return nil
}

// ============================================================
// RedisDrafts — shared across BFA instances
// ============================================================

const draftKeyPart = "onboarding:draft"

// RedisDrafts stores drafts as JSON strings under {prefix}:onboarding:draft:{user}.
type RedisDrafts struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisDrafts wraps a Redis client. An empty prefix defaults to "bfa".
func NewRedisDrafts(rdb redis.Cmdable, prefix string) *RedisDrafts {
	if prefix == "" {
		prefix = "bfa"
	}
	return &RedisDrafts{rdb: rdb, prefix: prefix}
}

func (r *RedisDrafts) key(userID string) string {
	return strings.Join([]string{r.prefix, draftKeyPart, userID}, ":")
}

func (r *RedisDrafts) GetDraft(ctx context.Context, userID string) (*domain.Draft, error) {
	raw, err := r.rdb.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "redis/drafts", Err: err}
	}

	var d domain.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &d, nil
}

func (r *RedisDrafts) PutDraft(ctx context.Context, draft *domain.Draft, ttl time.Duration) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(draft.UserID), raw, ttl).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis/drafts", Err: err}
	}
	return nil
}

func (r *RedisDrafts) DeleteDraft(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis/drafts", Err: err}
	}
	return nil
}

// NewRedisClient opens a client and checks it with a PING, the way the
// worker services do.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}
