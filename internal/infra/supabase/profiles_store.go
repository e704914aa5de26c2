package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// ProfileStore implementation — profiles table
// ============================================================

const profileColumns = "id,full_name,phone,email,trade_primary,years_experience," +
	"business_name,abn,license_number,license_expiry,insurance_provider,insurance_expiry," +
	"service_area_type,service_postcodes,service_radius_km,service_center_address," +
	"onboarding_step,onboarding_completed"

// GetProfile fetches the user's profile row. Returns nil, nil when there is none.
func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var profile *domain.Profile

	err := c.execute(ctx, "supabase/profiles", true, func() error {
		path := fmt.Sprintf("profiles?id=%s&select=%s&limit=1", eq(userID), profileColumns)
		body, err := c.doGet(ctx, path)
		if err != nil {
			return err
		}
		if isEmptyResult(body) {
			profile = nil
			return nil
		}

		var rows []domain.Profile
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("decode profiles: %w", err))
		}
		if len(rows) == 0 {
			return nil
		}
		profile = &rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateProfile patches the user's row. When no row matched, the row is
// inserted with the same columns.
func (c *Client) UpdateProfile(ctx context.Context, userID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfile")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int("columns", len(updates)),
	)

	return c.execute(ctx, "supabase/profiles", true, func() error {
		path := fmt.Sprintf("profiles?id=%s&select=id", eq(userID))
		body, err := c.doPatch(ctx, path, updates, "return=representation")
		if err != nil {
			return err
		}
		if !isEmptyResult(body) {
			return nil
		}

		c.logger.Info("supabase: profile row missing, inserting", zap.String("user_id", userID))
		row := make(map[string]any, len(updates)+1)
		for k, v := range updates {
			row[k] = v
		}
		row["id"] = userID
		_, err = c.doPost(ctx, "profiles", row, "resolution=merge-duplicates,return=minimal")
		return err
	})
}
