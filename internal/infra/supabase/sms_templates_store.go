package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// TemplateStore implementation — sms_templates table
// ============================================================

// ListActiveTemplates returns the user's active templates, oldest first.
func (c *Client) ListActiveTemplates(ctx context.Context, userID string) ([]domain.SMSTemplateRow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListActiveTemplates")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var rows []domain.SMSTemplateRow

	err := c.execute(ctx, "supabase/sms_templates", true, func() error {
		path := fmt.Sprintf("sms_templates?user_id=%s&is_active=eq.true&order=created_at.asc", eq(userID))
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		if isEmptyResult(body) {
			rows = []domain.SMSTemplateRow{}
			return nil
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("decode sms_templates: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteTemplates removes every template row of the user.
func (c *Client) DeleteTemplates(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteTemplates")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.execute(ctx, "supabase/sms_templates", true, func() error {
		return c.doDelete(ctx, fmt.Sprintf("sms_templates?user_id=%s", eq(userID)))
	})
}

// InsertTemplates bulk-inserts rows in one request. It is not retried: a
// timed-out insert may have landed, and a replay would duplicate rows.
func (c *Client) InsertTemplates(ctx context.Context, rows []domain.SMSTemplateRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Supabase.InsertTemplates")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	return c.execute(ctx, "supabase/sms_templates", false, func() error {
		_, err := c.doPost(ctx, "sms_templates", rows, "")
		return err
	})
}
