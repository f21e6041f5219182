package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("client")

// UpstreamConfig bounds a single prediction call.
type UpstreamConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// UpstreamClient sends prediction requests to the model server.
// One attempt per call; the breaker and bulkhead are optional.
type UpstreamClient struct {
	httpClient *http.Client
	predictURL string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        UpstreamConfig
}

// NewUpstreamClient creates a new UpstreamClient. cb and bulkhead may be nil.
func NewUpstreamClient(httpClient *http.Client, predictURL string, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, cfg UpstreamConfig) *UpstreamClient {
	return &UpstreamClient{
		httpClient: httpClient,
		predictURL: predictURL,
		cb:         cb,
		bulkhead:   bulkhead,
		cfg:        cfg,
	}
}

// Call POSTs req as JSON and returns the raw reply, whatever its status.
// Transport failures come back as *domain.ErrUpstreamUnreachable or
// *domain.ErrUpstreamTimeout, a reply over MaxBodyBytes as
// *domain.ErrUpstreamTooLarge. Cancelling ctx does not abort the call;
// only the configured timeout does.
func (c *UpstreamClient) Call(ctx context.Context, req *domain.PredictionRequest) (*domain.UpstreamResponse, error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "UpstreamClient.Call")
	defer span.End()
	span.SetAttributes(attribute.String("upstream.url", c.predictURL))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.execute(ctx, body)
	elapsed := time.Since(start)
	if err != nil {
		err = c.classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp.Elapsed = elapsed

	if resp.Oversize {
		err := &domain.ErrUpstreamTooLarge{Addr: c.predictURL, StatusCode: resp.StatusCode, Limit: c.cfg.MaxBodyBytes}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("upstream.body_bytes", len(resp.Body)),
		attribute.Int64("upstream.elapsed_ms", elapsed.Milliseconds()),
	)
	return resp, nil
}

func (c *UpstreamClient) execute(ctx context.Context, body []byte) (*domain.UpstreamResponse, error) {
	if c.bulkhead != nil {
		if err := c.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer c.bulkhead.Release()
	}

	if c.cb == nil {
		return c.do(ctx, body)
	}

	// Only transport failures count against the breaker; a non-2xx reply
	// means the server is up.
	result, err := c.cb.Execute(func() (any, error) {
		return c.do(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.UpstreamResponse), nil
}

func (c *UpstreamClient) do(ctx context.Context, body []byte) (*domain.UpstreamResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// One byte past the cap tells an oversize reply from one that fits exactly.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	// An oversize reply still means the server is up, so it is not a
	// breaker failure; Call turns it into an error afterwards.
	if int64(len(raw)) > c.cfg.MaxBodyBytes {
		return &domain.UpstreamResponse{StatusCode: resp.StatusCode, Oversize: true}, nil
	}

	return &domain.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Body:       raw,
	}, nil
}

// classify maps a transport error onto the upstream failure classes.
func (c *UpstreamClient) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ErrUpstreamTimeout{Addr: c.predictURL, Timeout: c.cfg.Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.ErrUpstreamTimeout{Addr: c.predictURL, Timeout: c.cfg.Timeout, Err: err}
	}
	return &domain.ErrUpstreamUnreachable{Addr: c.predictURL, Err: err}
}
