package domain

import (
	"fmt"
	"time"
)

// Error types for the gateway's error taxonomy.

// ErrValidation indicates a missing or non-numeric request field.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Invalid or missing field: %s", e.Field)
}

// ErrUpstreamUnreachable indicates a transport failure before any HTTP response
// (DNS, connect, reset, open circuit).
type ErrUpstreamUnreachable struct {
	Addr string
	Err  error
}

func (e *ErrUpstreamUnreachable) Error() string {
	return fmt.Sprintf("upstream %s unreachable: %v", e.Addr, e.Err)
}

func (e *ErrUpstreamUnreachable) Unwrap() error {
	return e.Err
}

// ErrUpstreamTimeout indicates the upstream call exceeded its deadline.
type ErrUpstreamTimeout struct {
	Addr    string
	Timeout time.Duration
	Err     error
}

func (e *ErrUpstreamTimeout) Error() string {
	return fmt.Sprintf("upstream %s timed out after %s", e.Addr, e.Timeout)
}

func (e *ErrUpstreamTimeout) Unwrap() error {
	return e.Err
}

// ErrUpstreamUnavailable is the orchestrator-level class for both
// ErrUpstreamUnreachable and ErrUpstreamTimeout.
type ErrUpstreamUnavailable struct {
	Addr string
	Err  error
}

func (e *ErrUpstreamUnavailable) Error() string {
	return fmt.Sprintf("upstream unavailable: cannot contact ML model server on %s", e.Addr)
}

func (e *ErrUpstreamUnavailable) Unwrap() error {
	return e.Err
}

// ErrUpstreamBadStatus indicates the model server answered with a non-200 status.
type ErrUpstreamBadStatus struct {
	StatusCode int
	Preview    string
	Artifacts  ArtifactPaths
}

func (e *ErrUpstreamBadStatus) Error() string {
	return fmt.Sprintf("ML model returned HTTP %d", e.StatusCode)
}

// ErrUpstreamMalformedResponse indicates a 200 reply whose body is not JSON.
type ErrUpstreamMalformedResponse struct {
	ParseError string
	Preview    string
	Artifacts  ArtifactPaths
}

func (e *ErrUpstreamMalformedResponse) Error() string {
	return "ML model returned invalid JSON"
}

// ErrUpstreamTooLarge indicates the model server reply exceeded the body cap.
// The truncated body is never parsed or persisted.
type ErrUpstreamTooLarge struct {
	Addr       string
	StatusCode int
	Limit      int64
}

func (e *ErrUpstreamTooLarge) Error() string {
	return fmt.Sprintf("ML model response exceeds %d bytes", e.Limit)
}
