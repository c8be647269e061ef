// Package point defines the records handed to a time-series store.
package point

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind distinguishes cumulative totals from period deltas.
type Kind uint8

const (
	// KindCumulative carries the raw running total reported in a file.
	KindCumulative Kind = iota
	// KindDelta carries the change since the previous file.
	KindDelta
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindCumulative:
		return "cumulative"
	case KindDelta:
		return "delta"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrInvalid is returned by Validate for points that must not be stored.
var ErrInvalid = errors.New("invalid point")

// Point is one (measurement, tags, field, timestamp) unit.
type Point struct {
	Kind        Kind
	Measurement string
	Tags        map[string]string
	Field       string
	Value       float64
	Time        time.Time
}

// Validate checks the invariants every stored point must hold.
func (p Point) Validate() error {
	if p.Measurement == "" {
		return fmt.Errorf("%w: empty measurement", ErrInvalid)
	}

	if p.Field == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalid)
	}

	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return fmt.Errorf("%w: field %s has non-finite value %v", ErrInvalid, p.Field, p.Value)
	}

	if p.Time.IsZero() {
		return fmt.Errorf("%w: field %s has zero timestamp", ErrInvalid, p.Field)
	}

	return nil
}

// Measurements names the measurement used for each kind.
type Measurements struct {
	// Cumulative is the measurement for running totals. Defaults to "daily".
	Cumulative string `yaml:"cumulative"`

	// Delta is the measurement for per-file deltas, including the
	// aggregated coarse totals. Defaults to "daily_delta".
	Delta string `yaml:"delta"`
}

// DefaultMeasurements returns the measurement names used when none are set.
func DefaultMeasurements() Measurements {
	return Measurements{
		Cumulative: "daily",
		Delta:      "daily_delta",
	}
}

// For returns the measurement name for kind.
func (m Measurements) For(k Kind) string {
	if k == KindDelta {
		return m.Delta
	}

	return m.Cumulative
}

// CountByMeasurement tallies points per measurement name.
func CountByMeasurement(points []Point) map[string]int {
	counts := make(map[string]int, 2)
	for _, p := range points {
		counts[p.Measurement]++
	}

	return counts
}
