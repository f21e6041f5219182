package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/miles-spidee/exoml/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

// isoMillis matches the millisecond ISO-8601 timestamps the UI already parses.
const isoMillis = "2006-01-02T15:04:05.000Z"

func timestamp() string {
	return time.Now().UTC().Format(isoMillis)
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Timestamp: timestamp()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeServiceError maps domain errors to HTTP responses.
// Upstream failures are 502, validation 400, everything else 500.
func writeServiceError(w http.ResponseWriter, err error, exposeDebug bool, logger *zap.Logger) {
	var validation *domain.ErrValidation
	var unavailable *domain.ErrUpstreamUnavailable
	var badStatus *domain.ErrUpstreamBadStatus
	var malformed *domain.ErrUpstreamMalformedResponse
	var tooLarge *domain.ErrUpstreamTooLarge

	resp := domain.GatewayResponse{Error: err.Error(), Timestamp: timestamp()}

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("field", validation.Field))
		writeJSON(w, http.StatusBadRequest, resp)

	case errors.As(err, &unavailable):
		logger.Error("model server unavailable", zap.Error(err))
		if unavailable.Err != nil {
			resp.Details = unavailable.Err.Error()
		}
		writeJSON(w, http.StatusBadGateway, resp)

	case errors.As(err, &tooLarge):
		logger.Warn("model server reply too large", zap.Int64("limit", tooLarge.Limit))
		writeJSON(w, http.StatusBadGateway, resp)

	case errors.As(err, &badStatus):
		logger.Warn("model server bad status", zap.Int("status", badStatus.StatusCode))
		resp.Raw = &badStatus.Preview
		resp.Debug = debugPaths(badStatus.Artifacts, exposeDebug)
		writeJSON(w, http.StatusBadGateway, resp)

	case errors.As(err, &malformed):
		logger.Warn("model server malformed response", zap.String("parse_error", malformed.ParseError))
		resp.ParseError = malformed.ParseError
		resp.ResultPreview = &malformed.Preview
		resp.Debug = debugPaths(malformed.Artifacts, exposeDebug)
		writeJSON(w, http.StatusBadGateway, resp)

	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func debugPaths(paths domain.ArtifactPaths, expose bool) *domain.DebugInfo {
	if !expose || paths == (domain.ArtifactPaths{}) {
		return nil
	}
	return &domain.DebugInfo{ArtifactPaths: paths}
}
