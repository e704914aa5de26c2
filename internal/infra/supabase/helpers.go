package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/resilience"
)

// ============================================================
// HTTP helpers for POST, PATCH, DELETE
// ============================================================

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil, "")
}

// doPost inserts one row or, given a slice, a batch of rows.
func (c *Client) doPost(ctx context.Context, table string, data any, prefer string) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("encode body: %w", err))
	}
	if prefer == "" {
		prefer = "return=minimal"
	}
	return c.doRequest(ctx, http.MethodPost, table, bytes.NewReader(jsonBody), prefer)
}

// doPatch applies a partial update. Nil values are sent as JSON null.
func (c *Client) doPatch(ctx context.Context, path string, data map[string]any, prefer string) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("encode body: %w", err))
	}
	if prefer == "" {
		prefer = "return=minimal"
	}
	return c.doRequest(ctx, http.MethodPatch, path, bytes.NewReader(jsonBody), prefer)
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil, "return=minimal")
	return err
}

// isEmptyResult reports whether a PostgREST body carries no rows.
func isEmptyResult(body []byte) bool {
	return len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "[]"
}
