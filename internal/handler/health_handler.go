package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/miles-spidee/exoml/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Gateway liveness: ANY /api/health, ANY /health, GET /
// ============================================================

func livenessHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.RequestURI()
		logger.Debug("liveness probe", zap.String("method", r.Method), zap.String("path", path))

		if strings.Contains(r.Header.Get("Accept"), "text/plain") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "OK - %s", path)
			return
		}

		writeJSON(w, http.StatusOK, domain.LivenessStatus{
			Status:    domain.HealthOK,
			Message:   "Backend health check",
			Path:      path,
			Method:    r.Method,
			Timestamp: timestamp(),
		})
	}
}

func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.LivenessStatus{
			Status:    domain.HealthOK,
			Message:   "Backend root - server is running",
			Timestamp: timestamp(),
		})
	}
}

// ============================================================
// GET /api/model-health
// ============================================================

func modelHealthHandler(health HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/model-health")
		defer span.End()

		h := health.Check(ctx)
		status := http.StatusOK
		if !h.Reachable {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}
