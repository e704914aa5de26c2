package onboarding

import (
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
)

// Recorder receives engine events for metrics.
type Recorder interface {
	StepValidated(step domain.StepID, valid bool)
	SaveCompleted(elapsed time.Duration, err error)
	AutosaveTriggered()
	AutosaveSuperseded()
	DraftLookup(hit bool)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) StepValidated(domain.StepID, bool)   {}
func (NopRecorder) SaveCompleted(time.Duration, error) {}
func (NopRecorder) AutosaveTriggered()                 {}
func (NopRecorder) AutosaveSuperseded()                {}
func (NopRecorder) DraftLookup(bool)                   {}
