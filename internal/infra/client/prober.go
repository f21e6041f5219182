package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// Prober checks liveness endpoints of the model server.
type Prober struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewProber creates a Prober issuing GETs bounded by timeout.
func NewProber(httpClient *http.Client, timeout time.Duration) *Prober {
	return &Prober{httpClient: httpClient, timeout: timeout}
}

// Probe visits endpoints in order and stops at the first 2xx reply.
// The returned slice holds one result per endpoint actually probed, so
// when nothing answers it is the full ordered list of failures.
func (p *Prober) Probe(ctx context.Context, endpoints []string) []domain.HealthProbeResult {
	ctx, span := tracer.Start(ctx, "Prober.Probe")
	defer span.End()
	span.SetAttributes(attribute.Int("probe.candidates", len(endpoints)))

	results := make([]domain.HealthProbeResult, 0, len(endpoints))
	for _, endpoint := range endpoints {
		res := p.probeOne(ctx, endpoint)
		results = append(results, res)
		if res.Reachable {
			span.SetAttributes(attribute.String("probe.reachable", endpoint))
			break
		}
	}
	span.SetAttributes(attribute.Int("probe.attempts", len(results)))
	return results
}

func (p *Prober) probeOne(ctx context.Context, endpoint string) domain.HealthProbeResult {
	res := domain.HealthProbeResult{Endpoint: endpoint}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		res.Detail = fmt.Sprintf("invalid endpoint: %v", err)
		return res
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		res.Detail = p.describe(err)
		res.LatencyMs = time.Since(start).Milliseconds()
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	code := resp.StatusCode
	res.StatusCode = &code
	res.Reachable = code >= 200 && code < 300
	res.Detail = fmt.Sprintf("HTTP %s", resp.Status)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

func (p *Prober) describe(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Sprintf("timed out after %s", p.timeout)
	}
	return err.Error()
}
