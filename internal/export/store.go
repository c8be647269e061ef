// Package export writes point batches to a time-series backend.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	httpexport "github.com/ethpandaops/casefeed/internal/export/http"
	"github.com/ethpandaops/casefeed/internal/point"
)

// Backend names.
const (
	BackendInflux     = "influx"
	BackendClickHouse = "clickhouse"
	BackendHTTP       = "http"
)

// ErrUnknownBackend is returned for an unrecognized storage.backend.
var ErrUnknownBackend = errors.New("unknown storage backend")

// DeleteRequest describes a range deletion.
type DeleteRequest struct {
	Start     time.Time
	Stop      time.Time
	Predicate string

	// BucketID and OrgID address the target for backends that need them.
	BucketID string
	OrgID    string
}

// Store is a destination for point batches.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Start connects to the backend.
	Start(ctx context.Context) error
	// DeleteRange removes existing points in a time range.
	DeleteRange(ctx context.Context, req DeleteRequest) error
	// Write stores one batch. It returns once the backend has
	// acknowledged the batch.
	Write(ctx context.Context, points []point.Point) error
	// Stop releases resources.
	Stop() error
}

// Config selects and configures the storage backend.
type Config struct {
	// Backend is one of influx, clickhouse, http. Defaults to influx.
	Backend string `yaml:"backend"`

	Influx     InfluxConfig      `yaml:"influx"`
	ClickHouse ClickHouseConfig  `yaml:"clickhouse"`
	HTTP       httpexport.Config `yaml:"http"`
}

// DefaultConfig returns the storage defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendInflux,
		Influx:     DefaultInfluxConfig(),
		ClickHouse: DefaultClickHouseConfig(),
		HTTP:       httpexport.DefaultConfig(),
	}
}

// Validate checks the selected backend's configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendInflux:
		return c.Influx.Validate()
	case BackendClickHouse:
		return c.ClickHouse.Validate()
	case BackendHTTP:
		if err := c.HTTP.Validate(); err != nil {
			return fmt.Errorf("http: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// Target carries the credentials and identity a store writes with.
type Target struct {
	Token  string
	Org    string
	Bucket string
	RunID  string
}

// NewStore builds the configured backend.
func NewStore(log logrus.FieldLogger, cfg Config, target Target) (Store, error) {
	switch cfg.Backend {
	case BackendInflux:
		return NewInfluxStore(log, cfg.Influx, target), nil
	case BackendClickHouse:
		return NewClickHouseStore(log, cfg.ClickHouse, target.RunID), nil
	case BackendHTTP:
		return NewHTTPStore(log, cfg.HTTP, target.RunID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
