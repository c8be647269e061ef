package http

import (
	"context"
	"sync"

	processor "github.com/ethpandaops/go-batch-processor"
)

// Acknowledger sits between the batch processor and an exporter and counts
// delivered records, so an async caller can block until its records have
// actually reached the collector.
type Acknowledger struct {
	next processor.ItemExporter[Record]

	mu        sync.Mutex
	delivered int
	err       error
	changed   chan struct{}
}

var _ processor.ItemExporter[Record] = (*Acknowledger)(nil)

// NewAcknowledger wraps next.
func NewAcknowledger(next processor.ItemExporter[Record]) *Acknowledger {
	return &Acknowledger{
		next:    next,
		changed: make(chan struct{}),
	}
}

// ExportItems forwards items and records the outcome.
func (a *Acknowledger) ExportItems(ctx context.Context, items []*Record) error {
	err := a.next.ExportItems(ctx, items)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		if a.err == nil {
			a.err = err
		}
	} else {
		a.delivered += len(items)
	}

	close(a.changed)
	a.changed = make(chan struct{})

	return err
}

// Shutdown shuts down the wrapped exporter.
func (a *Acknowledger) Shutdown(ctx context.Context) error {
	return a.next.Shutdown(ctx)
}

// Mark clears any recorded failure and returns the delivered count, which
// is the base for the next Wait target.
func (a *Acknowledger) Mark() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.err = nil

	return a.delivered
}

// Wait blocks until target records have been delivered. It returns the
// first export failure recorded since Mark, or the context error.
func (a *Acknowledger) Wait(ctx context.Context, target int) error {
	for {
		a.mu.Lock()
		delivered, err, changed := a.delivered, a.err, a.changed
		a.mu.Unlock()

		if err != nil {
			return err
		}

		if delivered >= target {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
