package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/handler"
	"github.com/miles-spidee/exoml/internal/infra/observability"
	"github.com/miles-spidee/exoml/internal/infra/resilience"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockPredictor struct {
	out   *domain.PredictionOutcome
	err   error
	panic bool
}

func (m *mockPredictor) Predict(_ context.Context, _ map[string]any) (*domain.PredictionOutcome, error) {
	if m.panic {
		panic("boom")
	}
	return m.out, m.err
}

type mockHealth struct {
	health *domain.BackendHealth
}

func (m *mockHealth) Check(_ context.Context) *domain.BackendHealth {
	return m.health
}

func newRouter(p handler.Predictor, h handler.HealthChecker) http.Handler {
	if h == nil {
		h = &mockHealth{health: &domain.BackendHealth{Status: domain.HealthOK, Reachable: true, CheckedAt: time.Now()}}
	}
	return handler.NewRouter(p, h, observability.NewMetrics(), handler.Options{
		CORSAllowedOrigins: []string{"*"},
		MaxRequestBytes:    1 << 20,
	}, zap.NewNop())
}

func serve(router http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body
}

// --- Tests ---

func TestLiveness(t *testing.T) {
	router := newRouter(&mockPredictor{}, nil)

	for _, path := range []string{"/health", "/api/health"} {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodHead} {
			rec := serve(router, method, path, nil)
			if rec.Code != http.StatusOK {
				t.Errorf("%s %s: expected 200, got %d", method, path, rec.Code)
			}
		}
	}

	rec := serve(router, http.MethodGet, "/api/health", nil)
	body := decodeBody(t, rec)
	if body["status"] != "OK" || body["path"] != "/api/health" || body["method"] != "GET" {
		t.Errorf("unexpected liveness body %v", body)
	}
}

func TestLiveness_PlainText(t *testing.T) {
	router := newRouter(&mockPredictor{}, nil)

	rec := serve(router, http.MethodGet, "/health", map[string]string{"Accept": "text/plain"})
	if got := rec.Body.String(); got != "OK - /health" {
		t.Errorf("expected plain text, got %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestRoot(t *testing.T) {
	rec := serve(newRouter(&mockPredictor{}, nil), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "OK" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestModelHealth(t *testing.T) {
	tests := []struct {
		name   string
		health *domain.BackendHealth
		want   int
	}{
		{"reachable", &domain.BackendHealth{Status: domain.HealthOK, Reachable: true}, http.StatusOK},
		{"unreachable", &domain.BackendHealth{Status: domain.HealthError}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(&mockPredictor{}, &mockHealth{health: tt.health}), http.MethodGet, "/api/model-health", nil)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if body := decodeBody(t, rec); body["status"] != tt.health.Status {
				t.Errorf("unexpected body %v", body)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	rec := serve(newRouter(&mockPredictor{}, nil), http.MethodGet, "/nonexistent", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON, got %q", ct)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["error"] != "Not Found" {
		t.Errorf("unexpected body %v", body)
	}
	if body["path"] != "/nonexistent" || body["method"] != "GET" {
		t.Errorf("expected path and method echoed, got %v", body)
	}
	if body["timestamp"] == "" || body["timestamp"] == nil {
		t.Error("expected a timestamp")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(newRouter(&mockPredictor{}, nil), http.MethodGet, "/api/predict", nil)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["success"] != false {
		t.Errorf("unexpected body %v", body)
	}
}

func TestPanicBecomesJSON500(t *testing.T) {
	router := newRouter(&mockPredictor{panic: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false || body["timestamp"] == nil {
		t.Errorf("unexpected body %v", body)
	}
	if strings.Contains(rec.Body.String(), "boom") || strings.Contains(rec.Body.String(), "goroutine") {
		t.Error("panic details must not leak")
	}
}

func TestRoutesListing(t *testing.T) {
	rec := serve(newRouter(&mockPredictor{}, nil), http.MethodGet, "/api/routes", nil)

	var body struct {
		Success bool           `json:"success"`
		Routes  []domain.Route `json:"routes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success {
		t.Error("expected success")
	}

	want := map[string]string{
		"/api/predict":      "POST",
		"/api/model-health": "GET",
		"/health":           "ANY",
		"/api/routes":       "GET",
	}
	got := make(map[string]string)
	for _, r := range body.Routes {
		got[r.Path] = r.Methods
	}
	for path, methods := range want {
		if got[path] != methods {
			t.Errorf("route %s: expected %s, got %q", path, methods, got[path])
		}
	}
}

func TestMetrics(t *testing.T) {
	router := newRouter(&mockPredictor{}, nil)

	rec := serve(router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = serve(router, http.MethodGet, "/api/metrics/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["period"] != "all_time" {
		t.Errorf("unexpected summary %v", body)
	}
}

func TestMetricsSummary_UpstreamInFlight(t *testing.T) {
	metrics := observability.NewMetrics()
	bh := resilience.NewBulkhead(4)
	metrics.TrackUpstreamInFlight(bh.InFlight)

	router := handler.NewRouter(&mockPredictor{}, &mockHealth{}, metrics, handler.Options{}, zap.NewNop())

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer bh.Release()

	body := decodeBody(t, serve(router, http.MethodGet, "/api/metrics/summary", nil))
	if body["upstreamInFlight"] != float64(1) {
		t.Errorf("expected one call in flight, got %v", body["upstreamInFlight"])
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := serve(newRouter(&mockPredictor{}, nil), http.MethodOptions, "/api/predict", map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "POST",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" && got != "http://localhost:5173" {
		t.Errorf("expected origin to be allowed, got %q", got)
	}
}
