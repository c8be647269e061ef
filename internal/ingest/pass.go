package ingest

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/casefeed/internal/delta"
	"github.com/ethpandaops/casefeed/internal/point"
	"github.com/ethpandaops/casefeed/internal/record"
	"github.com/ethpandaops/casefeed/internal/rollup"
	"github.com/ethpandaops/casefeed/internal/timestamp"
)

// Skip reasons, used as the rows_skipped_total label.
const (
	ReasonMetric    = "metric"
	ReasonTimestamp = "timestamp"
)

// Schema describes how a raw row maps onto points.
type Schema struct {
	Metrics        []string
	Ignored        []string
	CoarseField    string
	FineField      string
	TimestampField string
	Measurements   point.Measurements
	Placeholder    string

	metricOrder []string
	metricSet   record.FieldSet
	ignoredSet  record.FieldSet
}

// NewSchema returns a copy of s ready for use by a Pass.
func NewSchema(s Schema) *Schema {
	s.metricOrder = append([]string(nil), s.Metrics...)
	sort.Strings(s.metricOrder)

	s.metricSet = record.NewFieldSet(s.Metrics...)
	s.ignoredSet = record.NewFieldSet(s.Ignored...)

	return &s
}

// RowError reports a row rejected during a pass.
type RowError struct {
	File   string
	Row    int
	Reason string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d: %v", e.File, e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Pass converts the rows of one file into its point batch.
type Pass struct {
	index    int
	file     string
	schema   *Schema
	tracker  *delta.Tracker
	resolver *timestamp.Resolver
	totals   *rollup.Pass
	points   []point.Point
	rows     int
	seen     int
}

// NewPass starts pass number index over file. The tracker carries over
// between passes; aggregation state does not.
func NewPass(
	index int,
	file string,
	schema *Schema,
	tracker *delta.Tracker,
	resolver *timestamp.Resolver,
) *Pass {
	return &Pass{
		index:    index,
		file:     file,
		schema:   schema,
		tracker:  tracker,
		resolver: resolver,
		totals: rollup.NewPass(rollup.Config{
			CoarseField: schema.CoarseField,
			FineField:   schema.FineField,
			Placeholder: schema.Placeholder,
		}),
	}
}

// Row converts one raw row. The row is fully parsed before the tracker
// is touched, so a rejected row leaves no trace.
func (p *Pass) Row(raw record.Raw) error {
	p.seen++

	tags, values, err := record.Normalize(raw, p.schema.metricSet, p.schema.ignoredSet)
	if err != nil {
		return &RowError{File: p.file, Row: p.seen, Reason: ReasonMetric, Err: err}
	}

	ts, err := p.resolver.Resolve(raw[p.schema.TimestampField])
	if err != nil {
		return &RowError{File: p.file, Row: p.seen, Reason: ReasonTimestamp, Err: err}
	}

	coarse := raw[p.schema.CoarseField]
	fine := raw[p.schema.FineField]

	for _, metric := range p.schema.metricOrder {
		value, ok := values[metric]
		if !ok {
			continue
		}

		d := p.tracker.Update(delta.Key{Coarse: coarse, Fine: fine, Metric: metric}, value)

		p.points = append(p.points,
			p.point(point.KindCumulative, tags, metric, value, ts),
			p.point(point.KindDelta, tags, metric, d, ts),
		)

		p.totals.Add(coarse, metric, d)
	}

	p.totals.Observe(coarse, ts)
	p.rows++

	return nil
}

func (p *Pass) point(kind point.Kind, tags record.Tags, field string, value float64, ts time.Time) point.Point {
	return point.Point{
		Kind:        kind,
		Measurement: p.schema.Measurements.For(kind),
		Tags:        tags,
		Field:       field,
		Value:       value,
		Time:        ts,
	}
}

// Finish appends the aggregated delta points and returns the batch.
func (p *Pass) Finish() []point.Point {
	return append(p.points, p.totals.Points(p.schema.Measurements.Delta)...)
}

// Index is the pass's position in the run, starting at 0.
func (p *Pass) Index() int {
	return p.index
}

// Rows is the number of rows converted.
func (p *Pass) Rows() int {
	return p.rows
}

// Aggregates is the number of aggregated points Finish will append.
func (p *Pass) Aggregates() int {
	return p.totals.Len()
}

// IsRowError reports whether err is a rejected row, and its reason.
func IsRowError(err error) (string, bool) {
	var rowErr *RowError
	if errors.As(err, &rowErr) {
		return rowErr.Reason, true
	}

	return "", false
}
