// Package http posts point records as NDJSON to an HTTP collector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/casefeed/internal/version"
)

// Exporter posts record batches as NDJSON.
type Exporter struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[Record] = (*Exporter)(nil)

// NewExporter creates an exporter from cfg.
func NewExporter(log logrus.FieldLogger, cfg Config) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Exporter{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ExportTimeout,
		},
		compressor: compressor,
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// Config returns the effective configuration.
func (e *Exporter) Config() Config {
	return e.cfg
}

// ExportItems posts records in one request.
func (e *Exporter) ExportItems(ctx context.Context, items []*Record) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(len(items) * 192)

	enc := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
	}

	body, err := e.compressor.Compress(buf.Bytes())
	if err != nil {
		return fmt.Errorf("compressing body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"records":    len(items),
		"bytes":      buf.Len(),
		"compressed": len(body),
	}).Debug("Exported records via HTTP")

	return nil
}

// Shutdown releases the compressor.
func (e *Exporter) Shutdown(_ context.Context) error {
	return e.compressor.Close()
}

// NewProcessor wraps exporter in a batching processor for async mode.
func NewProcessor(
	log logrus.FieldLogger,
	exporter processor.ItemExporter[Record],
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[Record], error) {
	proc, err := processor.NewBatchItemProcessor[Record](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
