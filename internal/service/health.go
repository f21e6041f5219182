package service

import (
	"context"
	"fmt"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/observability"
	"github.com/miles-spidee/exoml/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const healthCacheKey = "backend"

// BackendHealthService decides whether the model server is up.
// Decisions are cached briefly and concurrent checks share one probe run.
type BackendHealthService struct {
	prober    port.HealthProber
	cache     port.Cache[*domain.BackendHealth]
	group     singleflight.Group
	endpoints []string
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBackendHealthService creates the service probing endpoints in order.
func NewBackendHealthService(
	prober port.HealthProber,
	cache port.Cache[*domain.BackendHealth],
	endpoints []string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *BackendHealthService {
	return &BackendHealthService{
		prober:    prober,
		cache:     cache,
		endpoints: endpoints,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Check returns the current backend health, probing if the cached
// decision has expired.
func (s *BackendHealthService) Check(ctx context.Context) *domain.BackendHealth {
	ctx, span := tracer.Start(ctx, "BackendHealthService.Check")
	defer span.End()

	if h, ok := s.cache.Get(healthCacheKey); ok {
		s.metrics.IncrProbeCache(true)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return h
	}
	s.metrics.IncrProbeCache(false)

	// Probes run detached from the first caller so a disconnecting client
	// does not fail the check for everyone sharing it.
	v, _, shared := s.group.Do(healthCacheKey, func() (any, error) {
		h := s.probe(context.WithoutCancel(ctx))
		s.cache.Set(healthCacheKey, h)
		return h, nil
	})
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	return v.(*domain.BackendHealth)
}

func (s *BackendHealthService) probe(ctx context.Context) *domain.BackendHealth {
	start := time.Now()
	results := s.prober.Probe(ctx, s.endpoints)
	s.metrics.RecordDuration("probe", time.Since(start))

	h := &domain.BackendHealth{
		Status:    domain.HealthError,
		Probes:    results,
		CheckedAt: s.now().UTC(),
	}

	if n := len(results); n > 0 && results[n-1].Reachable {
		last := results[n-1]
		h.Status = domain.HealthOK
		h.Reachable = true
		h.Endpoint = last.Endpoint
		h.Message = fmt.Sprintf("ML model server is reachable at %s", last.Endpoint)
		return h
	}

	h.Message = "Cannot reach ML model server"
	if len(results) == 0 {
		h.Message = "No model server health endpoints configured"
	}
	s.logger.Warn("model server health check failed",
		zap.Int("probes", len(results)),
		zap.Strings("endpoints", s.endpoints),
	)
	return h
}
