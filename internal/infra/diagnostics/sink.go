// Package diagnostics writes the latest request and upstream reply to disk
// for post-hoc debugging. It is not a data store: files are overwritten on
// every request and write failures are only logged.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("diagnostics")

// Artifact file names.
const (
	InputFile     = "input.json"
	ResultFile    = "formatted_result.json"
	BadStatusFile = "debug_response.txt"
)

// FileSink persists diagnostic records under a directory.
type FileSink struct {
	dir        string
	perRequest bool
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewFileSink creates a sink rooted at dir. With perRequest set, file
// names are prefixed with the request id so concurrent requests never
// share a file.
func NewFileSink(dir string, perRequest bool, metrics *observability.Metrics, logger *zap.Logger) *FileSink {
	return &FileSink{
		dir:        dir,
		perRequest: perRequest,
		metrics:    metrics,
		logger:     logger,
	}
}

// Persist writes the input and the response artifact for rec and reports
// which files were written. It never fails the caller.
func (s *FileSink) Persist(ctx context.Context, rec domain.DiagnosticRecord) domain.ArtifactPaths {
	_, span := tracer.Start(ctx, "FileSink.Persist")
	defer span.End()
	span.SetAttributes(attribute.String("diagnostic.kind", string(rec.Kind)))

	var paths domain.ArtifactPaths

	if rec.Input != nil {
		inputPath := s.path(rec.RequestID, InputFile)
		b, err := json.MarshalIndent(rec.Input, "", "  ")
		if err == nil {
			err = writeAtomic(inputPath, b)
		}
		if err != nil {
			s.fail(rec, inputPath, err)
		} else {
			paths.InputPath = inputPath
		}
	}

	if rec.Kind != "" {
		respPath, data := s.responseArtifact(rec)
		if err := writeAtomic(respPath, data); err != nil {
			s.fail(rec, respPath, err)
		} else {
			paths.ResponsePath = respPath
		}
	}

	return paths
}

func (s *FileSink) responseArtifact(rec domain.DiagnosticRecord) (string, []byte) {
	switch rec.Kind {
	case domain.DiagnosticResult:
		var buf bytes.Buffer
		if err := json.Indent(&buf, rec.Response, "", "  "); err != nil {
			return s.path(rec.RequestID, ResultFile), rec.Response
		}
		return s.path(rec.RequestID, ResultFile), buf.Bytes()
	case domain.DiagnosticBadStatus:
		return s.path(rec.RequestID, BadStatusFile), rec.Response
	default:
		// Malformed bodies are kept verbatim for offline inspection.
		return s.path(rec.RequestID, ResultFile), rec.Response
	}
}

func (s *FileSink) path(requestID, name string) string {
	if s.perRequest && requestID != "" {
		name = requestID + "_" + name
	}
	return filepath.Join(s.dir, name)
}

func (s *FileSink) fail(rec domain.DiagnosticRecord, path string, err error) {
	if s.metrics != nil {
		s.metrics.IncrDiagnosticFailure()
	}
	s.logger.Warn("diagnostic write failed",
		zap.String("request_id", rec.RequestID),
		zap.String("kind", string(rec.Kind)),
		zap.String("path", path),
		zap.Error(err),
	)
}

// writeAtomic writes to a temp file in the same directory, then renames,
// so readers never see a partially written artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
