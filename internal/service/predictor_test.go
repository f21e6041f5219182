package service_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/observability"
	"github.com/miles-spidee/exoml/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockUpstream struct {
	resp  *domain.UpstreamResponse
	err   error
	calls atomic.Int32
	got   *domain.PredictionRequest
}

func (m *mockUpstream) Call(_ context.Context, req *domain.PredictionRequest) (*domain.UpstreamResponse, error) {
	m.calls.Add(1)
	m.got = req
	return m.resp, m.err
}

type mockSink struct {
	records []domain.DiagnosticRecord
	paths   domain.ArtifactPaths
}

func (m *mockSink) Persist(_ context.Context, rec domain.DiagnosticRecord) domain.ArtifactPaths {
	m.records = append(m.records, rec)
	return m.paths
}

func newPredictor(up *mockUpstream, sink *mockSink) (*service.Predictor, *observability.Metrics) {
	metrics := observability.NewMetrics()
	return service.NewPredictor(up, sink, metrics, zap.NewNop(), "127.0.0.1:8000"), metrics
}

func okResponse(body string) *domain.UpstreamResponse {
	return &domain.UpstreamResponse{StatusCode: 200, Body: []byte(body), Elapsed: 5 * time.Millisecond}
}

// --- Tests ---

func TestPredict_Success(t *testing.T) {
	up := &mockUpstream{resp: okResponse(`{"label":"planet","score":0.87}`)}
	sink := &mockSink{paths: domain.ArtifactPaths{InputPath: "d/input.json", ResponsePath: "d/formatted_result.json"}}
	p, metrics := newPredictor(up, sink)

	in := validInput()
	out, err := p.Predict(context.Background(), in)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if string(out.Result) != `{"label":"planet","score":0.87}` {
		t.Errorf("unexpected result %s", out.Result)
	}
	if !reflect.DeepEqual(out.Input, in) {
		t.Errorf("input echo differs: %v", out.Input)
	}
	if out.RequestID == "" {
		t.Error("expected a request id")
	}
	if out.ResponseLength != len(`{"label":"planet","score":0.87}`) {
		t.Errorf("unexpected response length %d", out.ResponseLength)
	}
	if out.Artifacts != sink.paths {
		t.Errorf("unexpected artifacts %+v", out.Artifacts)
	}
	if up.got.OrbitalPeriod != 12.3 || up.got.StellarEffectTemp != 5700 {
		t.Errorf("upstream received %+v", up.got)
	}

	wantTrace := []domain.PipelineState{
		domain.StateValidating, domain.StateCalling, domain.StateParsing,
		domain.StatePersisting, domain.StateDone,
	}
	if !reflect.DeepEqual(out.Trace, wantTrace) {
		t.Errorf("trace = %v, want %v", out.Trace, wantTrace)
	}

	if len(sink.records) != 1 || sink.records[0].Kind != domain.DiagnosticResult {
		t.Fatalf("expected one result record, got %+v", sink.records)
	}
	if sink.records[0].RequestID != out.RequestID {
		t.Error("diagnostic record should carry the request id")
	}

	snap := metrics.Snapshot()
	if snap.Outcomes[observability.OutcomeSuccess] != 1 {
		t.Errorf("expected 1 success, got %v", snap.Outcomes)
	}
}

func TestPredict_ValidationSkipsUpstream(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing field", func(m map[string]any) { delete(m, "koi_prad") }},
		{"non-numeric field", func(m map[string]any) { m["koi_period"] = "abc" }},
		{"boolean field", func(m map[string]any) { m["koi_teq"] = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpstream{resp: okResponse(`{}`)}
			sink := &mockSink{}
			p, metrics := newPredictor(up, sink)

			in := validInput()
			tt.mutate(in)
			_, err := p.Predict(context.Background(), in)

			var verr *domain.ErrValidation
			if !errors.As(err, &verr) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if up.calls.Load() != 0 {
				t.Errorf("upstream must not be called, got %d calls", up.calls.Load())
			}
			if len(sink.records) != 0 {
				t.Error("nothing should be persisted for invalid input")
			}
			if metrics.Snapshot().Outcomes[observability.OutcomeValidationError] != 1 {
				t.Error("expected validation outcome to be counted")
			}
		})
	}
}

func TestPredict_UpstreamUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class string
	}{
		{"unreachable", &domain.ErrUpstreamUnreachable{Addr: "127.0.0.1:8000", Err: fmt.Errorf("connection refused")}, observability.UpstreamUnreachable},
		{"timeout", &domain.ErrUpstreamTimeout{Addr: "127.0.0.1:8000", Timeout: time.Second}, observability.UpstreamTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpstream{err: tt.err}
			sink := &mockSink{}
			p, metrics := newPredictor(up, sink)

			_, err := p.Predict(context.Background(), validInput())

			var unavailable *domain.ErrUpstreamUnavailable
			if !errors.As(err, &unavailable) {
				t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected the transport error to be wrapped")
			}
			if !strings.Contains(err.Error(), "unavailable") {
				t.Errorf("expected unavailable indicator, got %q", err.Error())
			}
			if metrics.Snapshot().UpstreamErrors[tt.class] != 1 {
				t.Errorf("expected %s to be counted", tt.class)
			}
			if len(sink.records) != 1 || sink.records[0].Kind != "" || sink.records[0].Input == nil {
				t.Errorf("expected an input-only record, got %+v", sink.records)
			}
		})
	}
}

func TestPredict_BadStatus(t *testing.T) {
	body := strings.Repeat("x", 300)
	up := &mockUpstream{resp: &domain.UpstreamResponse{StatusCode: 500, Body: []byte(body)}}
	sink := &mockSink{paths: domain.ArtifactPaths{ResponsePath: "d/debug_response.txt"}}
	p, _ := newPredictor(up, sink)

	_, err := p.Predict(context.Background(), validInput())

	var bad *domain.ErrUpstreamBadStatus
	if !errors.As(err, &bad) {
		t.Fatalf("expected ErrUpstreamBadStatus, got %v", err)
	}
	if bad.StatusCode != 500 {
		t.Errorf("expected 500, got %d", bad.StatusCode)
	}
	if len(bad.Preview) != 200 {
		t.Errorf("expected 200-char preview, got %d", len(bad.Preview))
	}
	if bad.Artifacts.ResponsePath != "d/debug_response.txt" {
		t.Errorf("unexpected artifacts %+v", bad.Artifacts)
	}
	if len(sink.records) != 1 || sink.records[0].Kind != domain.DiagnosticBadStatus {
		t.Fatalf("expected bad status record, got %+v", sink.records)
	}
	if string(sink.records[0].Response) != body {
		t.Error("full body must be persisted")
	}
}

func TestPredict_MalformedJSON(t *testing.T) {
	up := &mockUpstream{resp: okResponse("not json")}
	sink := &mockSink{}
	p, metrics := newPredictor(up, sink)

	_, err := p.Predict(context.Background(), validInput())

	var malformed *domain.ErrUpstreamMalformedResponse
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrUpstreamMalformedResponse, got %v", err)
	}
	if malformed.ParseError == "" {
		t.Error("expected a parse error")
	}
	if malformed.Preview != "not json" {
		t.Errorf("unexpected preview %q", malformed.Preview)
	}
	if len(sink.records) != 1 || string(sink.records[0].Response) != "not json" {
		t.Fatalf("raw body must be handed to the sink unmodified, got %+v", sink.records)
	}
	if metrics.Snapshot().UpstreamErrors[observability.UpstreamMalformed] != 1 {
		t.Error("expected malformed to be counted")
	}
}

func TestPredict_NullResultIsMalformed(t *testing.T) {
	up := &mockUpstream{resp: okResponse(" null\n")}
	sink := &mockSink{}
	p, _ := newPredictor(up, sink)

	out, err := p.Predict(context.Background(), validInput())

	var malformed *domain.ErrUpstreamMalformedResponse
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrUpstreamMalformedResponse, got %v (outcome %+v)", err, out)
	}
	if len(sink.records) != 1 || sink.records[0].Kind != domain.DiagnosticMalformed {
		t.Errorf("expected a malformed record, got %+v", sink.records)
	}
}

func TestPredict_UpstreamTooLarge(t *testing.T) {
	up := &mockUpstream{err: &domain.ErrUpstreamTooLarge{Addr: "127.0.0.1:8000", StatusCode: 200, Limit: 1024}}
	sink := &mockSink{}
	p, metrics := newPredictor(up, sink)

	_, err := p.Predict(context.Background(), validInput())

	var tooLarge *domain.ErrUpstreamTooLarge
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected ErrUpstreamTooLarge, got %v", err)
	}
	var unavailable *domain.ErrUpstreamUnavailable
	if errors.As(err, &unavailable) {
		t.Error("an oversize reply is not an unavailable server")
	}

	snap := metrics.Snapshot()
	if snap.UpstreamErrors[observability.UpstreamTooLarge] != 1 {
		t.Errorf("expected too_large to be counted, got %v", snap.UpstreamErrors)
	}
	if snap.UpstreamErrors[observability.UpstreamMalformed] != 0 {
		t.Error("oversize must not be counted as malformed")
	}
	if snap.Outcomes[observability.OutcomeUpstreamTooLarge] != 1 {
		t.Errorf("unexpected outcomes %v", snap.Outcomes)
	}
	if len(sink.records) != 1 || sink.records[0].Kind != "" || sink.records[0].Response != nil {
		t.Errorf("expected an input-only record, got %+v", sink.records)
	}
}

func TestPredict_PreviewKeepsRunes(t *testing.T) {
	body := strings.Repeat("é", 250)
	up := &mockUpstream{resp: &domain.UpstreamResponse{StatusCode: 503, Body: []byte(body)}}
	p, _ := newPredictor(up, &mockSink{})

	_, err := p.Predict(context.Background(), validInput())

	var bad *domain.ErrUpstreamBadStatus
	if !errors.As(err, &bad) {
		t.Fatalf("expected ErrUpstreamBadStatus, got %v", err)
	}
	if bad.Preview != strings.Repeat("é", 200) {
		t.Errorf("expected 200 runes, got %d bytes", len(bad.Preview))
	}
}

func TestPredict_SinkFailureDoesNotFailRequest(t *testing.T) {
	up := &mockUpstream{resp: okResponse(`{"label":"candidate"}`)}
	// A sink that wrote nothing reports empty paths.
	p, _ := newPredictor(up, &mockSink{})

	out, err := p.Predict(context.Background(), validInput())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if out.Artifacts != (domain.ArtifactPaths{}) {
		t.Errorf("expected no artifacts, got %+v", out.Artifacts)
	}
}
