package http

import (
	"time"

	"github.com/ethpandaops/casefeed/internal/point"
)

// Record is the NDJSON line shape of one point.
type Record struct {
	RunID       string            `json:"run_id,omitempty"`
	Measurement string            `json:"measurement"`
	Kind        string            `json:"kind"`
	Tags        map[string]string `json:"tags"`
	Field       string            `json:"field"`
	Value       float64           `json:"value"`
	Time        time.Time         `json:"time"`
}

// NewRecords converts points to records stamped with runID.
func NewRecords(runID string, points []point.Point) []*Record {
	out := make([]*Record, 0, len(points))

	for i := range points {
		p := &points[i]

		out = append(out, &Record{
			RunID:       runID,
			Measurement: p.Measurement,
			Kind:        p.Kind.String(),
			Tags:        p.Tags,
			Field:       p.Field,
			Value:       p.Value,
			Time:        p.Time.UTC(),
		})
	}

	return out
}
