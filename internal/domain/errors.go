package domain

import (
	"fmt"
	"strings"
)

// ============================================================
// Errors — mapped to HTTP statuses by the handler
// ============================================================

// ErrNotFound is returned for unknown sections, presets and similar lookups.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Resource, e.ID)
}

// ErrExternalService wraps a failed call to Supabase, Redis or the broker.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout is a backend call that ran out of time.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("%s timed out", e.Operation)
}

// ErrCircuitOpen means calls to Service are short-circuited until it recovers.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("%s is unavailable (circuit open)", e.Service)
}

// ErrValidation is malformed request input. Step validation failures are
// data, not errors, and never produce one.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ErrPrecondition indicates an operation was invoked before its inputs were ready,
// e.g. a save without a bound user.
type ErrPrecondition struct {
	Operation string
	Reason    string
}

func (e *ErrPrecondition) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Operation, e.Reason)
}

// ErrIncomplete lists the required steps that are not recorded valid.
type ErrIncomplete struct {
	MissingSteps []StepID
}

func (e *ErrIncomplete) Error() string {
	names := make([]string, len(e.MissingSteps))
	for i, s := range e.MissingSteps {
		names[i] = s.String()
	}
	return "onboarding incomplete, invalid steps: " + strings.Join(names, ", ")
}

// ErrForbidden is an operation disabled for this deployment or user.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return "forbidden: " + e.Action
}

// ErrUnauthorized is a missing, expired or otherwise rejected token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}
