// Package record turns raw daily-report rows into tag sets and metric values.
package record

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed is wrapped by every MalformedError.
var ErrMalformed = errors.New("malformed metric value")

// MalformedError reports a metric field whose value is not a finite number.
type MalformedError struct {
	Field string
	Value string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: field %s has value %q", ErrMalformed, e.Field, e.Value)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

// Raw is one row keyed by normalized header name.
type Raw map[string]string

// Tags is the non-metric, non-ignored part of a row.
type Tags map[string]string

// Values maps metric name to its parsed value.
type Values map[string]float64

// FieldSet is a closed set of field names.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}

	return s
}

// Has reports whether name is in the set.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]

	return ok
}

// Normalize splits a raw row into its tag set and metric values.
// Empty metric strings become 0. Anything else that does not parse as a
// finite float is a *MalformedError.
func Normalize(raw Raw, metrics, ignored FieldSet) (Tags, Values, error) {
	tags := make(Tags, len(raw))
	values := make(Values, len(metrics))

	for name, value := range raw {
		if metrics.Has(name) {
			v, err := parseMetric(name, value)
			if err != nil {
				return nil, nil, err
			}

			values[name] = v

			continue
		}

		if ignored.Has(name) {
			continue
		}

		tags[name] = value
	}

	return tags, values, nil
}

func parseMetric(name, value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}

	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &MalformedError{Field: name, Value: value}
	}

	return v, nil
}

// NormalizeHeader rewrites a header name the way row keys are stored:
// a leading UTF-8 BOM is dropped, spaces and slashes become underscores.
func NormalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")

	return headerReplacer.Replace(name)
}

var headerReplacer = strings.NewReplacer("/", "_", " ", "_")
