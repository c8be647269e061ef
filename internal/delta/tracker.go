// Package delta converts cumulative readings into per-file deltas.
package delta

// Key identifies one tracked series: a metric for a fine key nested under a
// coarse key.
type Key struct {
	Coarse string
	Fine   string
	Metric string
}

// Tracker remembers the last cumulative value seen per Key.
//
// Update must be called in chronological file order; feeding files out of
// order silently corrupts every later delta. A Tracker is not safe for
// concurrent use.
type Tracker struct {
	last map[Key]float64
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		last: make(map[Key]float64, 4096),
	}
}

// Update records value as the latest reading for key and returns the change
// since the previous reading. An unseen key has a previous reading of zero.
// Decreasing values are stored as-is and yield a negative delta.
func (t *Tracker) Update(key Key, value float64) float64 {
	prev := t.last[key]
	t.last[key] = value

	return value - prev
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	return len(t.last)
}

// Snapshot returns a copy of the tracked readings.
func (t *Tracker) Snapshot() map[Key]float64 {
	out := make(map[Key]float64, len(t.last))
	for k, v := range t.last {
		out[k] = v
	}

	return out
}

// Restore replaces the tracked readings with a copy of state.
func (t *Tracker) Restore(state map[Key]float64) {
	t.last = make(map[Key]float64, len(state))
	for k, v := range state {
		t.last[k] = v
	}
}
