package domain

import "time"

// ============================================================
// Health probing
// ============================================================

// HealthProbeResult is the outcome of one liveness GET, in probe order.
type HealthProbeResult struct {
	Endpoint   string `json:"endpoint"`
	Reachable  bool   `json:"reachable"`
	StatusCode *int   `json:"statusCode,omitempty"`
	Detail     string `json:"detail"`
	LatencyMs  int64  `json:"latencyMs"`
}

// Health status values, matching what the UI already understands.
const (
	HealthOK    = "OK"
	HealthError = "ERROR"
)

// BackendHealth is returned by GET /api/model-health.
type BackendHealth struct {
	Status    string              `json:"status"`
	Message   string              `json:"message"`
	Reachable bool                `json:"reachable"`
	Endpoint  string              `json:"endpoint,omitempty"`
	Probes    []HealthProbeResult `json:"probes"`
	CheckedAt time.Time           `json:"checkedAt"`
}

// LivenessStatus is returned by the gateway's own liveness routes.
type LivenessStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ============================================================
// Metrics & route table
// ============================================================

// GatewayMetrics is returned by GET /api/metrics/summary.
type GatewayMetrics struct {
	TotalPredictions   int64              `json:"totalPredictions"`
	Outcomes           map[string]int64   `json:"outcomes"`
	ErrorRate          float64            `json:"errorRate"`
	UpstreamErrors     map[string]int64   `json:"upstreamErrors"`
	DiagnosticFailures int64              `json:"diagnosticFailures"`
	UpstreamInFlight   int                `json:"upstreamInFlight"`
	ProbeCacheHitRate  float64            `json:"probeCacheHitRate"`
	AvgLatencyMs       map[string]float64 `json:"avgLatencyMs"`
	Period             string             `json:"period"`
}

// Route describes one entry of the static route table.
type Route struct {
	Methods string `json:"methods"`
	Path    string `json:"path"`
}
