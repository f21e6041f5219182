package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/miles-spidee/exoml/internal/domain"
)

// Validate checks that every required feature is present and numeric,
// in declaration order, and returns the typed request. The first failing
// field is reported.
//
// Numbers may arrive as JSON numbers or as numeric strings, since CSV-fed
// forms send them quoted. Booleans, null, objects, arrays, empty strings
// and non-finite values are rejected.
func Validate(raw map[string]any) (*domain.PredictionRequest, error) {
	req := &domain.PredictionRequest{}
	for _, field := range domain.RequiredFields {
		v, ok := raw[field]
		if !ok {
			return nil, &domain.ErrValidation{Field: field}
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, &domain.ErrValidation{Field: field}
		}
		req.Set(field, f)
	}
	return req, nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
