package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/observability"
	"github.com/miles-spidee/exoml/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/predictor")

// previewChars bounds the upstream body excerpt returned to callers.
const previewChars = 200

// Predictor runs one prediction per inbound request:
// validate, call the model server, parse, persist diagnostics.
type Predictor struct {
	upstream port.UpstreamCaller
	sink     port.DiagnosticSink
	metrics  *observability.Metrics
	logger   *zap.Logger
	addr     string
}

// NewPredictor creates the orchestrator. addr is the model server address
// as shown to callers in unavailable errors.
func NewPredictor(
	upstream port.UpstreamCaller,
	sink port.DiagnosticSink,
	metrics *observability.Metrics,
	logger *zap.Logger,
	addr string,
) *Predictor {
	return &Predictor{
		upstream: upstream,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		addr:     addr,
	}
}

// run tracks the state trace of one prediction.
type run struct {
	states []domain.PipelineState
	span   trace.Span
	logger *zap.Logger
}

func (r *run) enter(s domain.PipelineState) {
	r.states = append(r.states, s)
	r.span.AddEvent(string(s))
	r.logger.Debug("prediction state", zap.String("state", string(s)))
}

func (r *run) fail(err error) error {
	r.enter(domain.StateErrored)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	return err
}

// Predict validates raw, forwards it upstream and returns the parsed result.
// Errors are typed (see domain/errors.go) so the HTTP layer can map them.
func (p *Predictor) Predict(ctx context.Context, raw map[string]any) (*domain.PredictionOutcome, error) {
	ctx, span := tracer.Start(ctx, "Predictor.Predict")
	defer span.End()

	start := time.Now()
	outcome := observability.OutcomeInternal
	defer func() {
		p.metrics.RecordDuration("predict", time.Since(start))
		p.metrics.IncrPrediction(outcome)
	}()

	id := uuid.NewString()
	span.SetAttributes(attribute.String("request.id", id))
	r := &run{span: span, logger: p.logger.With(zap.String("request_id", id))}
	defer func() {
		r.logger.Debug("prediction finished", zap.Any("states", r.states))
	}()

	// --- Validating ---
	r.enter(domain.StateValidating)
	req, err := Validate(raw)
	if err != nil {
		outcome = observability.OutcomeValidationError
		r.logger.Info("prediction rejected", zap.Error(err))
		return nil, r.fail(err)
	}

	// --- Calling ---
	r.enter(domain.StateCalling)
	resp, err := p.upstream.Call(ctx, req)
	var tooLarge *domain.ErrUpstreamTooLarge
	if errors.As(err, &tooLarge) {
		outcome = observability.OutcomeUpstreamTooLarge
		p.metrics.IncrUpstreamError(observability.UpstreamTooLarge)
		r.logger.Warn("model server reply over the size cap",
			zap.Int("status", tooLarge.StatusCode),
			zap.Int64("limit", tooLarge.Limit),
		)
		// The partial body is not the reply; keep only the input.
		p.sink.Persist(ctx, domain.DiagnosticRecord{RequestID: id, Input: raw})
		return nil, r.fail(err)
	}
	if err != nil {
		outcome = observability.OutcomeUpstreamUnavailable
		p.recordTransportError(err)
		r.logger.Error("model server call failed", zap.String("addr", p.addr), zap.Error(err))
		p.sink.Persist(ctx, domain.DiagnosticRecord{RequestID: id, Input: raw})
		return nil, r.fail(&domain.ErrUpstreamUnavailable{Addr: p.addr, Err: err})
	}
	p.metrics.RecordDuration("upstream", resp.Elapsed)
	span.SetAttributes(attribute.Int("upstream.status", resp.StatusCode))

	// --- Parsing ---
	r.enter(domain.StateParsing)
	if resp.StatusCode != 200 {
		outcome = observability.OutcomeUpstreamBadStatus
		p.metrics.IncrUpstreamError(observability.UpstreamBadStatus)
		paths := p.sink.Persist(ctx, domain.DiagnosticRecord{
			RequestID: id,
			Input:     raw,
			Kind:      domain.DiagnosticBadStatus,
			Response:  resp.Body,
		})
		r.logger.Warn("model server returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(resp.Body)),
		)
		return nil, r.fail(&domain.ErrUpstreamBadStatus{
			StatusCode: resp.StatusCode,
			Preview:    preview(resp.Body, previewChars),
			Artifacts:  paths,
		})
	}

	if err := checkJSON(resp.Body); err != nil {
		outcome = observability.OutcomeUpstreamMalformed
		p.metrics.IncrUpstreamError(observability.UpstreamMalformed)
		paths := p.sink.Persist(ctx, domain.DiagnosticRecord{
			RequestID: id,
			Input:     raw,
			Kind:      domain.DiagnosticMalformed,
			Response:  resp.Body,
		})
		r.logger.Warn("model server returned invalid JSON", zap.Error(err))
		return nil, r.fail(&domain.ErrUpstreamMalformedResponse{
			ParseError: err.Error(),
			Preview:    preview(resp.Body, previewChars),
			Artifacts:  paths,
		})
	}

	// --- Persisting ---
	r.enter(domain.StatePersisting)
	paths := p.sink.Persist(ctx, domain.DiagnosticRecord{
		RequestID: id,
		Input:     raw,
		Kind:      domain.DiagnosticResult,
		Response:  resp.Body,
	})

	// --- Done ---
	r.enter(domain.StateDone)
	outcome = observability.OutcomeSuccess
	r.logger.Info("prediction completed",
		zap.Int("response_bytes", len(resp.Body)),
		zap.Duration("upstream_elapsed", resp.Elapsed),
	)

	return &domain.PredictionOutcome{
		RequestID:      id,
		Input:          raw,
		Result:         json.RawMessage(resp.Body),
		ResponseLength: len(resp.Body),
		Artifacts:      paths,
		Trace:          r.states,
	}, nil
}

func (p *Predictor) recordTransportError(err error) {
	var timeout *domain.ErrUpstreamTimeout
	if errors.As(err, &timeout) {
		p.metrics.IncrUpstreamError(observability.UpstreamTimeout)
		return
	}
	p.metrics.IncrUpstreamError(observability.UpstreamUnreachable)
}

// checkJSON reports why body is not a usable JSON result.
// A bare null is rejected so a successful response always carries a result.
func checkJSON(body []byte) error {
	if json.Valid(body) {
		if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			return errors.New("model returned a null result")
		}
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	return fmt.Errorf("invalid JSON")
}

// preview returns at most n characters of b without splitting a rune.
func preview(b []byte, n int) string {
	if utf8.RuneCount(b) <= n {
		return string(b)
	}
	i := 0
	for count := 0; count < n; count++ {
		_, size := utf8.DecodeRune(b[i:])
		i += size
	}
	return string(b[:i])
}
