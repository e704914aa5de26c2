package domain

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz and /readyz.
type HealthStatus struct {
	Status         string          `json:"status"` // healthy, degraded, unhealthy
	Services       []ServiceHealth `json:"services"`
	ActiveSessions int             `json:"activeSessions"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"lastChecked"`
}
