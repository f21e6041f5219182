package observability

import (
	"sync"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Prediction outcome labels.
const (
	OutcomeSuccess             = "success"
	OutcomeValidationError     = "validation_error"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeUpstreamBadStatus   = "upstream_bad_status"
	OutcomeUpstreamMalformed   = "upstream_malformed"
	OutcomeUpstreamTooLarge    = "upstream_too_large"
	OutcomeInternal            = "internal_error"
)

// Upstream error classes.
const (
	UpstreamUnreachable = "unreachable"
	UpstreamTimeout     = "timeout"
	UpstreamBadStatus   = "bad_status"
	UpstreamMalformed   = "malformed"
	UpstreamTooLarge    = "too_large"
)

var (
	outcomeLabels  = []string{OutcomeSuccess, OutcomeValidationError, OutcomeUpstreamUnavailable, OutcomeUpstreamBadStatus, OutcomeUpstreamMalformed, OutcomeUpstreamTooLarge, OutcomeInternal}
	upstreamLabels = []string{UpstreamUnreachable, UpstreamTimeout, UpstreamBadStatus, UpstreamMalformed, UpstreamTooLarge}
	latencyOps     = []string{"predict", "upstream", "probe"}
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can serve it.
	Registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	predictions        *prometheus.CounterVec
	upstreamErrors     *prometheus.CounterVec
	diagnosticFailures prometheus.Counter
	probeCache         *prometheus.CounterVec

	mu       sync.RWMutex
	inFlight func() int
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// gateway metrics in it. A private registry lets tests build as many
// instances as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exoml_gateway_duration_seconds",
				Help:    "Duration of gateway operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exoml_gateway_predictions_total",
				Help: "Prediction requests by outcome.",
			},
			[]string{"outcome"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exoml_gateway_upstream_errors_total",
				Help: "Upstream model server failures by class.",
			},
			[]string{"class"},
		),
		diagnosticFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "exoml_gateway_diagnostic_write_failures_total",
				Help: "Diagnostic artifact writes that failed.",
			},
		),
		probeCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exoml_gateway_probe_cache_total",
				Help: "Backend health lookups served from cache (hit) or by probing (miss).",
			},
			[]string{"result"},
		),
	}
}

// RecordDuration records the duration of an operation (predict, upstream, probe).
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrPrediction counts one finished prediction request.
func (m *Metrics) IncrPrediction(outcome string) {
	m.predictions.WithLabelValues(outcome).Inc()
}

// IncrUpstreamError counts one upstream failure by class.
func (m *Metrics) IncrUpstreamError(class string) {
	m.upstreamErrors.WithLabelValues(class).Inc()
}

// IncrDiagnosticFailure counts one failed artifact write.
func (m *Metrics) IncrDiagnosticFailure() {
	m.diagnosticFailures.Inc()
}

// IncrProbeCache counts a health lookup as cache hit or miss.
func (m *Metrics) IncrProbeCache(hit bool) {
	if hit {
		m.probeCache.WithLabelValues("hit").Inc()
		return
	}
	m.probeCache.WithLabelValues("miss").Inc()
}

// TrackUpstreamInFlight exposes fn as the in-flight upstream call gauge.
// Only the first call registers the gauge; later calls replace the source.
func (m *Metrics) TrackUpstreamInFlight(fn func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight == nil {
		m.Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "exoml_gateway_upstream_in_flight",
				Help: "Model server calls currently holding a bulkhead slot.",
			},
			func() float64 { return float64(m.upstreamInFlight()) },
		))
	}
	m.inFlight = fn
}

func (m *Metrics) upstreamInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.inFlight == nil {
		return 0
	}
	return m.inFlight()
}

// Snapshot returns cumulative values for GET /api/metrics/summary.
func (m *Metrics) Snapshot() *domain.GatewayMetrics {
	snap := &domain.GatewayMetrics{
		Outcomes:       make(map[string]int64, len(outcomeLabels)),
		UpstreamErrors: make(map[string]int64, len(upstreamLabels)),
		AvgLatencyMs:   make(map[string]float64, len(latencyOps)),
		Period:         "all_time",
	}

	var total, failed float64
	for _, label := range outcomeLabels {
		v := counterValue(m.predictions.WithLabelValues(label))
		snap.Outcomes[label] = int64(v)
		total += v
		if label != OutcomeSuccess {
			failed += v
		}
	}
	snap.TotalPredictions = int64(total)
	if total > 0 {
		snap.ErrorRate = failed / total
	}

	for _, label := range upstreamLabels {
		snap.UpstreamErrors[label] = int64(counterValue(m.upstreamErrors.WithLabelValues(label)))
	}

	snap.DiagnosticFailures = int64(counterValue(m.diagnosticFailures))
	snap.UpstreamInFlight = m.upstreamInFlight()

	hits := counterValue(m.probeCache.WithLabelValues("hit"))
	misses := counterValue(m.probeCache.WithLabelValues("miss"))
	if hits+misses > 0 {
		snap.ProbeCacheHitRate = hits / (hits + misses)
	}

	for _, op := range latencyOps {
		snap.AvgLatencyMs[op] = histogramMeanMs(m.requestDuration, op)
	}

	return snap
}

// counterValue extracts the current value of a counter.
func counterValue(c prometheus.Counter) float64 {
	pb := &dto.Metric{}
	if err := c.Write(pb); err != nil {
		return 0
	}
	if pb.Counter != nil && pb.Counter.Value != nil {
		return *pb.Counter.Value
	}
	return 0
}

// histogramMeanMs returns the mean observation for a label, in milliseconds.
func histogramMeanMs(hv *prometheus.HistogramVec, label string) float64 {
	h, ok := hv.WithLabelValues(label).(prometheus.Metric)
	if !ok {
		return 0
	}
	pb := &dto.Metric{}
	if err := h.Write(pb); err != nil || pb.Histogram == nil {
		return 0
	}
	count := pb.Histogram.GetSampleCount()
	if count == 0 {
		return 0
	}
	return pb.Histogram.GetSampleSum() / float64(count) * 1000
}
