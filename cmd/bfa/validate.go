package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/onboarding"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var (
		upTo    int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "validate <form.json|->",
		Short: "Validate onboarding form data offline",
		Long: `validate reads form data (the formData object of the onboarding state)
and prints a verdict per step. It exits non-zero when any step is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := readForm(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			step := domain.StepID(upTo)
			if !step.InRange() {
				return fmt.Errorf("--up-to must be between 0 and %d", domain.LastStep)
			}

			result := onboarding.ValidateAllSteps(form, step)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printValidation(cmd.OutOrStdout(), result)
			}
			if !result.Valid {
				return fmt.Errorf("%d validation error(s)", result.ErrorCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&upTo, "up-to", int(domain.StepReview), "validate steps 0..N")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

func readForm(stdin io.Reader, path string) (domain.FormData, error) {
	var form domain.FormData
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return form, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&form); err != nil {
		return form, fmt.Errorf("decode %s: %w", path, err)
	}
	return form, nil
}

func printValidation(w io.Writer, result domain.AllStepsValidation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tRESULT\tERRORS")
	for _, sv := range result.Steps {
		verdict := "ok"
		if !sv.IsValid {
			verdict = "invalid"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", sv.StepID, verdict, len(sv.Errors))
	}
	tw.Flush()

	for _, sv := range result.Steps {
		for _, e := range sv.Errors {
			fmt.Fprintf(w, "  %s: %s\n", sv.StepID, e)
		}
	}
}
