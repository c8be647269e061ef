package export

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	httpexport "github.com/ethpandaops/casefeed/internal/export/http"
	"github.com/ethpandaops/casefeed/internal/point"
)

// HTTPStore posts batches as NDJSON to a collector.
type HTTPStore struct {
	log      logrus.FieldLogger
	runID    string
	exporter *httpexport.Exporter
	ack      *httpexport.Acknowledger
	proc     *processor.BatchItemProcessor[httpexport.Record]
}

var _ Store = (*HTTPStore)(nil)

// NewHTTPStore creates an HTTP store from cfg.
func NewHTTPStore(log logrus.FieldLogger, cfg httpexport.Config, runID string) (*HTTPStore, error) {
	exporter, err := httpexport.NewExporter(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating http exporter: %w", err)
	}

	s := &HTTPStore{
		log:      log.WithField("component", "http_store"),
		runID:    runID,
		exporter: exporter,
	}

	if exporter.Config().Async {
		s.ack = httpexport.NewAcknowledger(exporter)

		proc, err := httpexport.NewProcessor(log, s.ack, exporter.Config(), "casefeed_http")
		if err != nil {
			return nil, err
		}

		s.proc = proc
	}

	return s, nil
}

// Name returns the backend name.
func (s *HTTPStore) Name() string {
	return BackendHTTP
}

// Start starts the async processor when enabled.
func (s *HTTPStore) Start(ctx context.Context) error {
	if s.proc != nil {
		s.proc.Start(ctx)
	}

	s.log.WithField("async", s.proc != nil).Info("HTTP store started")

	return nil
}

// DeleteRange is unsupported by plain collectors; it only logs.
func (s *HTTPStore) DeleteRange(_ context.Context, req DeleteRequest) error {
	s.log.WithFields(logrus.Fields{
		"start": req.Start,
		"stop":  req.Stop,
	}).Warn("HTTP backend cannot delete; skipping range deletion")

	return nil
}

// Write posts the batch. In async mode the records go through the
// processor and Write returns once every one of them has been delivered.
func (s *HTTPStore) Write(ctx context.Context, points []point.Point) error {
	records := httpexport.NewRecords(s.runID, points)

	if s.proc == nil {
		return s.exporter.ExportItems(ctx, records)
	}

	cfg := s.exporter.Config()

	for len(records) > 0 {
		chunk := records[:min(len(records), cfg.MaxQueueSize)]
		records = records[len(chunk):]

		if err := s.deliver(ctx, cfg, chunk); err != nil {
			return err
		}
	}

	return nil
}

func (s *HTTPStore) deliver(ctx context.Context, cfg httpexport.Config, chunk []*httpexport.Record) error {
	base := s.ack.Mark()

	if err := s.proc.Write(ctx, chunk); err != nil {
		return fmt.Errorf("queueing %d records: %w", len(chunk), err)
	}

	batches := (len(chunk) + cfg.BatchSize - 1) / cfg.BatchSize
	wait := cfg.BatchTimeout + cfg.ExportTimeout*time.Duration(batches+1)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := s.ack.Wait(waitCtx, base+len(chunk)); err != nil {
		return fmt.Errorf("exporting %d records: %w", len(chunk), err)
	}

	return nil
}

// Stop flushes queued records and releases the exporter.
func (s *HTTPStore) Stop() error {
	ctx := context.Background()

	if s.proc != nil {
		return s.proc.Shutdown(ctx)
	}

	return s.exporter.Shutdown(ctx)
}
