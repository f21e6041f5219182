package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Predictor runs one prediction.
type Predictor interface {
	Predict(ctx context.Context, raw map[string]any) (*domain.PredictionOutcome, error)
}

// HealthChecker reports model server health.
type HealthChecker interface {
	Check(ctx context.Context) *domain.BackendHealth
}

// Options tune the HTTP surface.
type Options struct {
	CORSAllowedOrigins []string
	MaxRequestBytes    int64 // 0 disables the limit
	ExposeDebugPaths   bool
}

// anyMethod marks a route that answers every HTTP method.
const anyMethod = "ANY"

type route struct {
	methods []string
	path    string
	handler http.HandlerFunc
}

// NewRouter creates the HTTP router with all routes and middleware.
// The route table below is the single source for both registration and
// GET /api/routes.
func NewRouter(predictor Predictor, health HealthChecker, metrics *observability.Metrics, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(JSONRecoverer(logger))

	var listing []domain.Route

	routes := []route{
		{[]string{http.MethodPost}, "/api/predict", predictHandler(predictor, opts, logger)},
		{[]string{http.MethodGet}, "/api/model-health", modelHealthHandler(health)},
		{[]string{anyMethod}, "/api/health", livenessHandler(logger)},
		{[]string{anyMethod}, "/health", livenessHandler(logger)},
		{[]string{http.MethodGet}, "/", rootHandler()},
		{[]string{http.MethodGet}, "/api/routes", routesHandler(&listing)},
		{[]string{http.MethodGet}, "/api/metrics/summary", metricsSummaryHandler(metrics)},
		{[]string{http.MethodGet}, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP},
	}

	for _, rt := range routes {
		for _, m := range rt.methods {
			if m == anyMethod {
				r.HandleFunc(rt.path, rt.handler)
				continue
			}
			r.MethodFunc(m, rt.path, rt.handler)
		}
		listing = append(listing, domain.Route{Methods: strings.Join(rt.methods, ","), Path: rt.path})
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		logger.Warn("unhandled route",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:     "Not Found",
			Path:      req.URL.RequestURI(),
			Method:    req.Method,
			Timestamp: timestamp(),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error:     "Method Not Allowed",
			Path:      req.URL.RequestURI(),
			Method:    req.Method,
			Timestamp: timestamp(),
		})
	})

	return r
}

// ============================================================
// GET /api/routes
// ============================================================

type routesResponse struct {
	Success bool           `json:"success"`
	Routes  []domain.Route `json:"routes"`
}

func routesHandler(listing *[]domain.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, routesResponse{Success: true, Routes: *listing})
	}
}

// ============================================================
// GET /api/metrics/summary
// ============================================================

func metricsSummaryHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /api/metrics/summary")
		defer span.End()

		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
