package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/infra/observability"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/onboarding"

	"github.com/spf13/cobra"
)

func newFillCmd() *cobra.Command {
	var (
		userID string
		preset string
		steps  []int
	)
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Generate mock onboarding data from a preset",
		Long: `fill prints mock form data for a preset. With --user it applies the data to
that user's onboarding in Supabase and saves it, as the dev fill route does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.StepID, len(steps))
			for i, s := range steps {
				ids[i] = domain.StepID(s)
				if !ids[i].InRange() {
					return fmt.Errorf("--step %d is out of range", s)
				}
			}
			if userID == "" {
				return printMock(cmd.OutOrStdout(), preset, ids)
			}
			return fillUser(cmd.Context(), cmd.OutOrStdout(), userID, preset, ids)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "apply to this user id instead of printing")
	cmd.Flags().StringVar(&preset, "preset", onboarding.DefaultPreset, "preset name, see the presets command")
	cmd.Flags().IntSliceVar(&steps, "step", nil, "steps to fill (default all)")
	return cmd
}

func printMock(w io.Writer, preset string, steps []domain.StepID) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if len(steps) == 0 {
		form, err := onboarding.MockFormData(preset)
		if err != nil {
			return err
		}
		return enc.Encode(form)
	}

	out := map[domain.Section]domain.SectionData{}
	for _, step := range steps {
		data, err := onboarding.MockSection(step, preset)
		if err != nil {
			return err
		}
		if data != nil {
			out[data.Section()] = data
		}
	}
	return enc.Encode(out)
}

func fillUser(ctx context.Context, w io.Writer, userID, preset string, steps []domain.StepID) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required with --user")
	}
	cfg.DevTools = true

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close(context.WithoutCancel(ctx))

	resp, err := b.svc.DevFill(ctx, userID, steps, preset)
	if err != nil {
		return err
	}
	view, err := b.svc.Save(ctx, userID)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	names := make([]string, len(resp.Steps))
	for i, s := range resp.Steps {
		names[i] = s.String()
	}
	fmt.Fprintf(w, "filled %s for %s with preset %q (%d%% complete)\n",
		strings.Join(names, ", "), userID, resp.Preset, view.CompletionPercentage)
	return nil
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List dev fill presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range onboarding.Presets() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
