package domain

// ============================================================
// Onboarding — Request / Response types (frontend API contract)
// ============================================================

// OnboardingView is returned by every /v1/onboarding route that exposes state.
type OnboardingView struct {
	State                OnboardingState `json:"state"`
	CompletionPercentage int             `json:"completionPercentage"`
	IsComplete           bool            `json:"isComplete"`
	CanSkipCurrent       bool            `json:"canSkipCurrent"`
	NextValidStep        *StepID         `json:"nextValidStep,omitempty"`
	Source               string          `json:"source,omitempty"` // "draft", "profile" or "" when already live
}

// SetStepRequest is the body for PUT /v1/onboarding/step.
type SetStepRequest struct {
	Step int `json:"step"`
}

// AllStepsValidation is returned by GET /v1/onboarding/validate.
type AllStepsValidation struct {
	Valid      bool             `json:"valid"`
	ErrorCount int              `json:"errorCount"`
	Steps      []StepValidation `json:"steps"`
}

// TemplatePreviewRequest is the body for POST /v1/onboarding/templates/preview.
type TemplatePreviewRequest struct {
	Content string            `json:"content"`
	Values  map[string]string `json:"values"`
}

// TemplatePreviewResponse is the rendered template plus what it references.
type TemplatePreviewResponse struct {
	Rendered  string   `json:"rendered"`
	Variables []string `json:"variables"`
	Unknown   []string `json:"unknown,omitempty"`
	Unfilled  []string `json:"unfilled,omitempty"`
	Segments  int      `json:"segments"`
}

// DevFillRequest is the optional body for POST /v1/dev/onboarding/fill/{step}.
type DevFillRequest struct {
	Preset string `json:"preset"`
}

// OnboardingMetrics is the snapshot returned by GET /v1/metrics/onboarding.
type OnboardingMetrics struct {
	SavesSucceeded      int64   `json:"savesSucceeded"`
	SavesFailed         int64   `json:"savesFailed"`
	SaveErrorRate       float64 `json:"saveErrorRate"`
	AutosavesTriggered  int64   `json:"autosavesTriggered"`
	AutosavesSuperseded int64   `json:"autosavesSuperseded"`
	Completions         int64   `json:"completions"`
	DraftHitRate        float64 `json:"draftHitRate"`
	Period              string  `json:"period"`
}

// NavigationResponse is returned by POST /v1/onboarding/next and /back.
type NavigationResponse struct {
	View       OnboardingView  `json:"view"`
	Moved      bool            `json:"moved"`
	Validation *StepValidation `json:"validation,omitempty"`
}

// DevFillResponse reports which steps a dev fill touched.
type DevFillResponse struct {
	View   OnboardingView `json:"view"`
	Preset string         `json:"preset"`
	Steps  []StepID       `json:"steps"`
}
