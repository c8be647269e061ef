// Package rollup sums one pass's fine-key deltas up to the coarse key.
package rollup

import (
	"sort"
	"time"

	"github.com/ethpandaops/casefeed/internal/point"
)

// DefaultPlaceholder is the fine-key tag value carried by aggregated points.
const DefaultPlaceholder = "aggregated/calculated total"

// Config names the tags written on aggregated points.
type Config struct {
	// CoarseField is the tag holding the coarse key (e.g. Province_State).
	CoarseField string

	// FineField is the tag holding the fine key (e.g. Admin2).
	FineField string

	// Placeholder is written as the fine-key tag so aggregated points are
	// distinguishable from real fine-key rows.
	Placeholder string
}

// Dimension is the key for one aggregated total.
type Dimension struct {
	Coarse string
	Metric string
}

// Pass holds the totals of a single file. Create one per file; nothing
// carries over between passes.
type Pass struct {
	cfg    Config
	totals map[Dimension]float64
	latest map[string]time.Time
}

// NewPass creates an empty Pass.
func NewPass(cfg Config) *Pass {
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}

	return &Pass{
		cfg:    cfg,
		totals: make(map[Dimension]float64, 512),
		latest: make(map[string]time.Time, 64),
	}
}

// Add accumulates a fine-key delta into the coarse total for metric.
func (p *Pass) Add(coarse, metric string, delta float64) {
	p.totals[Dimension{Coarse: coarse, Metric: metric}] += delta
}

// Observe records ts for coarse if it is the latest seen in this pass.
func (p *Pass) Observe(coarse string, ts time.Time) {
	if cur, ok := p.latest[coarse]; !ok || ts.After(cur) {
		p.latest[coarse] = ts
	}
}

// Len returns the number of dimensions with at least one delta.
func (p *Pass) Len() int {
	return len(p.totals)
}

// Points returns one delta point per dimension that received a delta,
// stamped with the coarse key's latest timestamp. Points are ordered by
// coarse key, then metric.
func (p *Pass) Points(measurement string) []point.Point {
	dims := make([]Dimension, 0, len(p.totals))
	for dim := range p.totals {
		dims = append(dims, dim)
	}

	sort.Slice(dims, func(i, j int) bool {
		if dims[i].Coarse != dims[j].Coarse {
			return dims[i].Coarse < dims[j].Coarse
		}

		return dims[i].Metric < dims[j].Metric
	})

	out := make([]point.Point, 0, len(dims))

	for _, dim := range dims {
		out = append(out, point.Point{
			Kind:        point.KindDelta,
			Measurement: measurement,
			Tags: map[string]string{
				p.cfg.CoarseField: dim.Coarse,
				p.cfg.FineField:   p.cfg.Placeholder,
			},
			Field: dim.Metric,
			Value: p.totals[dim],
			Time:  p.latest[dim.Coarse],
		})
	}

	return out
}
