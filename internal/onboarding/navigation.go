package onboarding

import (
	"math"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
)

// CompletionPercentage counts steps recorded valid over the fixed step total.
// A visited but invalid step contributes nothing.
func CompletionPercentage(validations map[domain.StepID]domain.StepValidation) int {
	valid := 0
	for step, v := range validations {
		if step.InRange() && v.IsValid {
			valid++
		}
	}
	return int(math.Round(float64(valid) / float64(domain.TotalSteps) * 100))
}

// NextValidStep scans forward from current+1 and returns the first step that is
// unvalidated, valid, or optional. ok is false when the scan runs off the end.
func NextValidStep(current domain.StepID, validations map[domain.StepID]domain.StepValidation, total int) (next domain.StepID, ok bool) {
	for step := current + 1; int(step) < total; step++ {
		v, recorded := validations[step]
		if !recorded || v.IsValid || CanSkipStep(step, &v) {
			return step, true
		}
	}
	return 0, false
}

// IsOnboardingComplete is true when every required step is recorded valid.
// The SMS templates step is optional and ignored.
func IsOnboardingComplete(validations map[domain.StepID]domain.StepValidation) bool {
	return len(MissingRequiredSteps(validations)) == 0
}

// MissingRequiredSteps lists required steps that are unrecorded or invalid.
func MissingRequiredSteps(validations map[domain.StepID]domain.StepValidation) []domain.StepID {
	var missing []domain.StepID
	for _, step := range domain.RequiredSteps {
		if v, ok := validations[step]; !ok || !v.IsValid {
			missing = append(missing, step)
		}
	}
	return missing
}
