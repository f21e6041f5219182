package domain

import (
	"encoding/json"
	"time"
)

// ============================================================
// Prediction request
// ============================================================

// Wire names of the seven required features, as sent by the UI and
// expected by the model server.
const (
	FieldOrbitalPeriod     = "koi_period"
	FieldTransitDuration   = "koi_duration"
	FieldTransitDepth      = "koi_depth"
	FieldPlanetRadius      = "koi_prad"
	FieldEquilibriumTemp   = "koi_teq"
	FieldInsolationFlux    = "koi_insol"
	FieldStellarEffectTemp = "koi_steff"
)

// RequiredFields lists the features in validation order.
var RequiredFields = []string{
	FieldOrbitalPeriod,
	FieldTransitDuration,
	FieldTransitDepth,
	FieldPlanetRadius,
	FieldEquilibriumTemp,
	FieldInsolationFlux,
	FieldStellarEffectTemp,
}

// PredictionRequest is the validated feature vector forwarded upstream.
type PredictionRequest struct {
	OrbitalPeriod     float64 `json:"koi_period"`
	TransitDuration   float64 `json:"koi_duration"`
	TransitDepth      float64 `json:"koi_depth"`
	PlanetRadius      float64 `json:"koi_prad"`
	EquilibriumTemp   float64 `json:"koi_teq"`
	InsolationFlux    float64 `json:"koi_insol"`
	StellarEffectTemp float64 `json:"koi_steff"`
}

// Set assigns a feature by wire name. Unknown names are ignored.
func (r *PredictionRequest) Set(field string, v float64) {
	switch field {
	case FieldOrbitalPeriod:
		r.OrbitalPeriod = v
	case FieldTransitDuration:
		r.TransitDuration = v
	case FieldTransitDepth:
		r.TransitDepth = v
	case FieldPlanetRadius:
		r.PlanetRadius = v
	case FieldEquilibriumTemp:
		r.EquilibriumTemp = v
	case FieldInsolationFlux:
		r.InsolationFlux = v
	case FieldStellarEffectTemp:
		r.StellarEffectTemp = v
	}
}

// ============================================================
// Upstream exchange
// ============================================================

// UpstreamResponse is the raw reply of the model server for one call.
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
	// Oversize is set when the body exceeded the read cap; Body is then empty.
	Oversize bool
}

// ============================================================
// Orchestration
// ============================================================

// PipelineState is a step of one prediction run.
type PipelineState string

const (
	StateValidating PipelineState = "validating"
	StateCalling    PipelineState = "calling"
	StateParsing    PipelineState = "parsing"
	StatePersisting PipelineState = "persisting"
	StateDone       PipelineState = "done"
	StateErrored    PipelineState = "errored"
)

// PredictionOutcome is what a successful run hands back to the HTTP layer.
type PredictionOutcome struct {
	RequestID      string
	Input          map[string]any
	Result         json.RawMessage
	ResponseLength int
	Artifacts      ArtifactPaths
	Trace          []PipelineState
}

// ============================================================
// Diagnostics
// ============================================================

// DiagnosticKind selects which response artifact a record produces.
type DiagnosticKind string

const (
	DiagnosticResult    DiagnosticKind = "result"     // parsed JSON, indented
	DiagnosticMalformed DiagnosticKind = "malformed"  // 200 with a non-JSON body, verbatim
	DiagnosticBadStatus DiagnosticKind = "bad_status" // non-200 body, verbatim
)

// DiagnosticRecord is one request/response pair handed to the sink.
type DiagnosticRecord struct {
	RequestID string
	Input     map[string]any
	Kind      DiagnosticKind
	Response  []byte
}

// ArtifactPaths holds the files a sink actually wrote. Empty fields were not written.
type ArtifactPaths struct {
	InputPath    string `json:"inputPath,omitempty"`
	ResponsePath string `json:"resultPath,omitempty"`
}

// ============================================================
// Gateway API response
// ============================================================

// GatewayResponse is the body of every /api/predict reply.
// Success is true iff Result is set and Error is empty.
type GatewayResponse struct {
	Success       bool            `json:"success"`
	RequestID     string          `json:"requestId,omitempty"`
	Input         map[string]any  `json:"input,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Details       string          `json:"details,omitempty"`
	Raw           *string         `json:"raw,omitempty"`
	ParseError    string          `json:"parseError,omitempty"`
	ResultPreview *string         `json:"resultPreview,omitempty"`
	Debug         *DebugInfo      `json:"debug,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
}

// DebugInfo is optional metadata attached to gateway responses.
type DebugInfo struct {
	ResponseLength int `json:"responseLength,omitempty"`
	ArtifactPaths
}
