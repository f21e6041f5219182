// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service
// layer from the model server, the filesystem and the cache.
package port

import (
	"context"

	"github.com/miles-spidee/exoml/internal/domain"
)

// UpstreamCaller forwards a validated request to the model server.
// A non-2xx reply is returned as a response, not as an error.
type UpstreamCaller interface {
	Call(ctx context.Context, req *domain.PredictionRequest) (*domain.UpstreamResponse, error)
}

// HealthProber checks candidate liveness endpoints in order.
type HealthProber interface {
	Probe(ctx context.Context, endpoints []string) []domain.HealthProbeResult
}

// DiagnosticSink persists request/response artifacts on a best-effort basis.
type DiagnosticSink interface {
	Persist(ctx context.Context, rec domain.DiagnosticRecord) domain.ArtifactPaths
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
}
