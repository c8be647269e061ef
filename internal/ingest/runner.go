// Package ingest converts ordered daily report files into point batches
// and writes one batch per file.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/casefeed/internal/checkpoint"
	"github.com/ethpandaops/casefeed/internal/delta"
	"github.com/ethpandaops/casefeed/internal/export"
	"github.com/ethpandaops/casefeed/internal/point"
	"github.com/ethpandaops/casefeed/internal/record"
	"github.com/ethpandaops/casefeed/internal/source"
	"github.com/ethpandaops/casefeed/internal/timestamp"
)

// Options carries the per-run collaborators of a Runner.
type Options struct {
	// ResumeFrom is the first file to process. Empty processes all files.
	ResumeFrom string

	// OrgID and BucketID address the wipe for stores that need them.
	OrgID    string
	BucketID string

	// RunID identifies the run. Generated when empty.
	RunID string

	// Metrics receives run metrics. Created unserved when nil.
	Metrics *export.HealthMetrics

	// State persists tracker baselines. Optional.
	State *checkpoint.Store

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Files       int
	Rows        int
	SkippedRows int
	Points      int
	Elapsed     time.Duration
}

// Runner drives one ingest run over the data directory.
type Runner struct {
	log      logrus.FieldLogger
	cfg      *Config
	store    export.Store
	opts     Options
	health   *export.HealthMetrics
	schema   *Schema
	tracker  *delta.Tracker
	resolver *timestamp.Resolver
}

// NewRunner creates a Runner writing to store. The store must already be
// started.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	store export.Store,
	opts Options,
) *Runner {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	health := opts.Metrics
	if health == nil {
		health = export.NewHealthMetrics(log, export.HealthConfig{})
	}

	return &Runner{
		log: log.WithFields(logrus.Fields{
			"component": "runner",
			"run_id":    opts.RunID,
		}),
		cfg:      cfg,
		store:    store,
		opts:     opts,
		health:   health,
		schema:   cfg.Schema(),
		tracker:  delta.NewTracker(),
		resolver: timestamp.NewResolver(),
	}
}

// Tracker exposes the delta tracker, mainly for inspection in tests.
func (r *Runner) Tracker() *delta.Tracker {
	return r.tracker
}

// Run processes every file from the resume point in name order.
func (r *Runner) Run(ctx context.Context) (summary Summary, err error) {
	started := r.opts.Now().UTC().Truncate(time.Second)
	summary.RunID = r.opts.RunID

	defer func() {
		summary.Elapsed = r.opts.Now().Sub(started)
	}()

	all, err := source.List(r.cfg.DataPath)
	if err != nil {
		return summary, err
	}

	files, err := source.From(all, r.opts.ResumeFrom)
	if err != nil {
		return summary, err
	}

	if err := r.restore(all); err != nil {
		return summary, err
	}

	r.log.WithFields(logrus.Fields{
		"files":       len(files),
		"resume_from": r.opts.ResumeFrom,
		"backend":     r.store.Name(),
	}).Info("Starting ingest run")

	if r.cfg.Wipe.Enabled {
		if err := r.wipe(ctx, started); err != nil {
			return summary, err
		}
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := r.runFile(ctx, i, f, &summary); err != nil {
			return summary, err
		}
	}

	r.log.WithFields(logrus.Fields{
		"files":        summary.Files,
		"rows":         summary.Rows,
		"skipped_rows": summary.SkippedRows,
		"points":       summary.Points,
	}).Info("Ingest run complete")

	return summary, nil
}

// restore loads tracker baselines when resuming with a state file.
func (r *Runner) restore(all []source.File) error {
	if r.opts.State == nil || r.opts.ResumeFrom == "" {
		return nil
	}

	state, err := r.opts.State.Load()
	if err != nil {
		return err
	}

	if state.LastFile == "" {
		r.log.Warn("No checkpoint state stored; resumed deltas start from zero")

		return nil
	}

	if prev, ok := source.Previous(all, r.opts.ResumeFrom); !ok || prev != state.LastFile {
		r.log.WithFields(logrus.Fields{
			"state_last_file": state.LastFile,
			"expected":        prev,
		}).Warn("Checkpoint state does not end at the file before the resume point")
	}

	r.tracker.Restore(state.Baselines)
	r.health.TrackedKeys.Set(float64(r.tracker.Len()))

	r.log.WithFields(logrus.Fields{
		"last_file": state.LastFile,
		"keys":      len(state.Baselines),
	}).Info("Restored tracker baselines")

	return nil
}

func (r *Runner) wipe(ctx context.Context, stop time.Time) error {
	req := export.DeleteRequest{
		Start:     r.cfg.Wipe.Start,
		Stop:      stop,
		Predicate: r.cfg.Wipe.Predicate,
		OrgID:     r.opts.OrgID,
		BucketID:  r.opts.BucketID,
	}

	if err := r.store.DeleteRange(ctx, req); err != nil {
		r.health.StoreErrors.WithLabelValues(r.store.Name(), "delete").Inc()

		return fmt.Errorf("wiping existing points: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"start":     req.Start.Format(time.RFC3339),
		"stop":      req.Stop.Format(time.RFC3339),
		"predicate": req.Predicate,
	}).Info("Deleted existing points")

	return nil
}

func (r *Runner) runFile(ctx context.Context, index int, f source.File, summary *Summary) error {
	log := r.log.WithField("file", f.Name)
	passStart := time.Now()
	pass := NewPass(index, f.Name, r.schema, r.tracker, r.resolver)
	skipped := 0

	err := source.Each(f.Path, r.cfg.Region, func(raw record.Raw) error {
		err := pass.Row(raw)
		if err == nil {
			return nil
		}

		reason, ok := IsRowError(err)
		if !ok || r.cfg.OnMalformedRow != PolicySkip {
			return err
		}

		skipped++
		r.health.RowsSkipped.WithLabelValues(reason).Inc()
		log.WithError(err).Warn("Skipping malformed row")

		return nil
	})
	if err != nil {
		return fmt.Errorf("processing %s: %w", f.Name, err)
	}

	batch := pass.Finish()

	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return fmt.Errorf("processing %s: %w", f.Name, err)
		}
	}

	r.health.PassDuration.Observe(time.Since(passStart).Seconds())

	writeStart := time.Now()

	if err := r.store.Write(ctx, batch); err != nil {
		r.health.StoreErrors.WithLabelValues(r.store.Name(), "write").Inc()

		return fmt.Errorf("writing %s: %w", f.Name, err)
	}

	r.health.WriteDuration.WithLabelValues(r.store.Name()).Observe(time.Since(writeStart).Seconds())
	r.record(batch, pass.Rows())

	if r.opts.State != nil {
		if err := r.opts.State.Save(checkpoint.State{
			LastFile:  f.Name,
			Baselines: r.tracker.Snapshot(),
		}); err != nil {
			return fmt.Errorf("checkpointing %s: %w", f.Name, err)
		}
	}

	summary.Files++
	summary.Rows += pass.Rows()
	summary.SkippedRows += skipped
	summary.Points += len(batch)

	log.WithFields(logrus.Fields{
		"pass":       pass.Index(),
		"rows":       pass.Rows(),
		"points":     len(batch),
		"aggregates": pass.Aggregates(),
		"elapsed":    time.Since(passStart).String(),
	}).Info("Wrote file batch")

	return nil
}

func (r *Runner) record(batch []point.Point, rows int) {
	r.health.FilesProcessed.Inc()
	r.health.RowsProcessed.Add(float64(rows))
	r.health.BatchSize.Observe(float64(len(batch)))
	r.health.TrackedKeys.Set(float64(r.tracker.Len()))

	for measurement, n := range point.CountByMeasurement(batch) {
		r.health.PointsWritten.WithLabelValues(measurement).Add(float64(n))
	}
}
