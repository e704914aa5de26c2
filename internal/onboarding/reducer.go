// Package onboarding implements the tradie onboarding workflow engine: a pure
// reducer over a closed action set, per-step validation, navigation rules, and
// a session that persists the draft to the profile store.
package onboarding

import (
	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
)

// Action is one state transition request. The set is closed: only the types
// in this file implement it.
type Action interface {
	isAction()
}

// SetCurrentStep moves the wizard. Out-of-range steps are clamped to [0, 6].
type SetCurrentStep struct{ Step domain.StepID }

// UpdateFormData shallow-merges one section.
type UpdateFormData struct{ Data domain.SectionData }

// SetStepValidation replaces the entry for Validation.StepID only.
type SetStepValidation struct{ Validation domain.StepValidation }

type SetLoading struct{ Loading bool }

// SetError stores a human-readable message; nil clears it.
type SetError struct{ Message *string }

// SetUserID rebinds the state. Form data is kept.
type SetUserID struct{ UserID *string }

// ResetOnboarding restores the initial empty state.
type ResetOnboarding struct{}

// LoadFromProfile hydrates the three persisted sections and the current step from a profile row.
type LoadFromProfile struct{ Profile domain.Profile }

// SetFormData replaces the whole draft.
type SetFormData struct{ FormData domain.FormData }

func (SetCurrentStep) isAction()    {}
func (UpdateFormData) isAction()    {}
func (SetStepValidation) isAction() {}
func (SetLoading) isAction()        {}
func (SetError) isAction()          {}
func (SetUserID) isAction()         {}
func (ResetOnboarding) isAction()   {}
func (LoadFromProfile) isAction()   {}
func (SetFormData) isAction()       {}

// InitialState is the empty state a new flow starts from.
func InitialState() domain.OnboardingState {
	return domain.OnboardingState{
		CurrentStep:    domain.StepWelcome,
		FormData:       domain.FormData{},
		StepValidation: map[domain.StepID]domain.StepValidation{},
	}
}

// Reduce applies a to s and returns the next state. It never mutates s and
// never performs I/O.
func Reduce(s domain.OnboardingState, a Action) domain.OnboardingState {
	next := CloneState(s)

	switch act := a.(type) {
	case SetCurrentStep:
		next.CurrentStep = ClampStep(act.Step)
	case UpdateFormData:
		next.FormData = next.FormData.Merge(act.Data)
	case SetStepValidation:
		v := act.Validation
		v.Errors = append([]string{}, v.Errors...)
		next.StepValidation[v.StepID] = v
	case SetLoading:
		next.IsLoading = act.Loading
	case SetError:
		next.Error = act.Message
	case SetUserID:
		next.UserID = act.UserID
	case ResetOnboarding:
		return InitialState()
	case LoadFromProfile:
		basic, business, area, step := ProfileToSections(&act.Profile)
		next.FormData = next.FormData.Merge(basic).Merge(business).Merge(area)
		next.CurrentStep = ClampStep(step)
	case SetFormData:
		next.FormData = act.FormData.Clone()
	}

	return next
}

// ClampStep bounds a step to the wizard range.
func ClampStep(step domain.StepID) domain.StepID {
	switch {
	case step < domain.StepWelcome:
		return domain.StepWelcome
	case step > domain.LastStep:
		return domain.LastStep
	}
	return step
}

// CloneState deep-copies the parts of a state that Reduce writes to.
func CloneState(s domain.OnboardingState) domain.OnboardingState {
	out := s
	out.FormData = s.FormData.Clone()
	out.StepValidation = make(map[domain.StepID]domain.StepValidation, len(s.StepValidation))
	for k, v := range s.StepValidation {
		out.StepValidation[k] = v
	}
	return out
}
