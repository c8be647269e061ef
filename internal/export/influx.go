package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/casefeed/internal/point"
	"github.com/ethpandaops/casefeed/internal/version"
)

// InfluxConfig configures the InfluxDB v2 backend.
type InfluxConfig struct {
	// URL of the InfluxDB server. Defaults to http://localhost:9999.
	URL string `yaml:"url"`

	// Gzip compresses write bodies. Defaults to true.
	Gzip bool `yaml:"gzip"`

	// Timeout is the HTTP request timeout. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultInfluxConfig returns the InfluxDB defaults.
func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{
		URL:     "http://localhost:9999",
		Gzip:    true,
		Timeout: 30 * time.Second,
	}
}

// Validate checks the InfluxDB configuration.
func (c *InfluxConfig) Validate() error {
	if c.URL == "" {
		return errors.New("storage.influx.url is required")
	}

	if c.Timeout < time.Second {
		return errors.New("storage.influx.timeout must be at least 1s")
	}

	return nil
}

// InfluxStore writes points through the InfluxDB v2 client.
type InfluxStore struct {
	log    logrus.FieldLogger
	cfg    InfluxConfig
	target Target
	client influxdb2.Client
}

var _ Store = (*InfluxStore)(nil)

// NewInfluxStore creates an InfluxDB store. Start must be called before use.
func NewInfluxStore(log logrus.FieldLogger, cfg InfluxConfig, target Target) *InfluxStore {
	return &InfluxStore{
		log:    log.WithField("component", "influx"),
		cfg:    cfg,
		target: target,
	}
}

// Name returns the backend name.
func (s *InfluxStore) Name() string {
	return BackendInflux
}

// Start creates the client and checks the server is reachable.
func (s *InfluxStore) Start(ctx context.Context) error {
	opts := influxdb2.DefaultOptions().
		SetUseGZip(s.cfg.Gzip).
		SetHTTPRequestTimeout(uint(s.cfg.Timeout / time.Second)).
		SetApplicationName(version.UserAgent())

	s.client = influxdb2.NewClientWithOptions(s.cfg.URL, s.target.Token, opts)

	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("pinging InfluxDB: %w", err)
	}

	if !ok {
		return fmt.Errorf("InfluxDB at %s is not ready", s.cfg.URL)
	}

	s.log.WithFields(logrus.Fields{
		"url":    s.cfg.URL,
		"org":    s.target.Org,
		"bucket": s.target.Bucket,
	}).Info("InfluxDB store connected")

	return nil
}

// DeleteRange deletes points in [Start, Stop] matching Predicate. Ids
// are preferred over names when both are known.
func (s *InfluxStore) DeleteRange(ctx context.Context, req DeleteRequest) error {
	api := s.client.DeleteAPI()

	var err error

	if req.OrgID != "" && req.BucketID != "" {
		err = api.DeleteWithID(ctx, req.OrgID, req.BucketID, req.Start, req.Stop, req.Predicate)
	} else {
		err = api.DeleteWithName(ctx, s.target.Org, s.target.Bucket, req.Start, req.Stop, req.Predicate)
	}

	if err != nil {
		return fmt.Errorf("deleting range %s..%s: %w",
			req.Start.Format(time.RFC3339), req.Stop.Format(time.RFC3339), err)
	}

	return nil
}

// Write sends the batch in one blocking write request.
func (s *InfluxStore) Write(ctx context.Context, points []point.Point) error {
	if len(points) == 0 {
		return nil
	}

	pts := make([]*write.Point, 0, len(points))

	for i := range points {
		pts = append(pts, toInfluxPoint(&points[i]))
	}

	if err := s.client.WriteAPIBlocking(s.target.Org, s.target.Bucket).WritePoint(ctx, pts...); err != nil {
		return fmt.Errorf("writing %d points: %w", len(pts), err)
	}

	return nil
}

// Stop closes the client.
func (s *InfluxStore) Stop() error {
	if s.client != nil {
		s.client.Close()
	}

	return nil
}

// toInfluxPoint drops empty tag values, which line protocol cannot carry.
func toInfluxPoint(p *point.Point) *write.Point {
	tags := make(map[string]string, len(p.Tags))

	for k, v := range p.Tags {
		if k == "" || v == "" {
			continue
		}

		tags[k] = v
	}

	return influxdb2.NewPoint(
		p.Measurement,
		tags,
		map[string]interface{}{p.Field: p.Value},
		p.Time,
	)
}
