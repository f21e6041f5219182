package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/miles-spidee/exoml/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// POST /api/predict
// ============================================================

func predictHandler(predictor Predictor, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/predict")
		defer span.End()

		if opts.MaxRequestBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxRequestBytes)
		}

		// UseNumber keeps the echoed input byte-for-byte numeric.
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()

		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			logger.Debug("unreadable predict body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		out, err := predictor.Predict(ctx, raw)
		if err != nil {
			writeServiceError(w, err, opts.ExposeDebugPaths, logger)
			return
		}
		span.SetAttributes(attribute.String("request.id", out.RequestID))

		debug := &domain.DebugInfo{ResponseLength: out.ResponseLength}
		if opts.ExposeDebugPaths {
			debug.ArtifactPaths = out.Artifacts
		}

		writeJSON(w, http.StatusOK, domain.GatewayResponse{
			Success:   true,
			RequestID: out.RequestID,
			Input:     out.Input,
			Result:    out.Result,
			Debug:     debug,
		})
	}
}
