package export

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/casefeed/internal/point"
)

// ClickHouseTable is the table created by the bundled migrations.
const ClickHouseTable = "points"

// ClickHouseConfig configures the ClickHouse backend.
type ClickHouseConfig struct {
	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name. Defaults to "casefeed".
	Database string `yaml:"database"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// DialTimeout bounds connection setup. Defaults to 10s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultClickHouseConfig returns the ClickHouse defaults.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Endpoint:    "localhost:9000",
		Database:    "casefeed",
		DialTimeout: 10 * time.Second,
	}
}

// Validate checks the ClickHouse configuration.
func (c *ClickHouseConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("storage.clickhouse.endpoint is required")
	}

	if c.Database == "" {
		return errors.New("storage.clickhouse.database is required")
	}

	return nil
}

// MigrationDSN returns the clickhouse:// URL the migrator connects with.
func (c *ClickHouseConfig) MigrationDSN() string {
	u := url.URL{
		Scheme: "clickhouse",
		Host:   c.Endpoint,
		Path:   "/" + c.Database,
	}

	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}

	return u.String()
}

func (c *ClickHouseConfig) qualifiedTable() string {
	return c.Database + "." + ClickHouseTable
}

// ClickHouseStore writes points to a ClickHouse table.
type ClickHouseStore struct {
	log   logrus.FieldLogger
	cfg   ClickHouseConfig
	runID string
	conn  clickhouse.Conn
}

var _ Store = (*ClickHouseStore)(nil)

// NewClickHouseStore creates a ClickHouse store.
func NewClickHouseStore(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	runID string,
) *ClickHouseStore {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &ClickHouseStore{
		log:   log.WithField("component", "clickhouse"),
		cfg:   cfg,
		runID: runID,
	}
}

// Name returns the backend name.
func (s *ClickHouseStore) Name() string {
	return BackendClickHouse
}

// Start opens the ClickHouse connection.
func (s *ClickHouseStore) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{s.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: s.cfg.Database,
			Username: s.cfg.Username,
			Password: s.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  s.cfg.DialTimeout,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	s.conn = conn

	s.log.WithField("endpoint", s.cfg.Endpoint).
		Info("ClickHouse store connected")

	return nil
}

// DeleteRange issues a mutation removing rows in [Start, Stop). The
// predicate, if set, is an SQL boolean expression over the table columns.
func (s *ClickHouseStore) DeleteRange(ctx context.Context, req DeleteRequest) error {
	query, args := deleteQuery(s.cfg.qualifiedTable(), req)

	if err := s.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting range: %w", err)
	}

	return nil
}

// Write inserts the batch in a single block.
func (s *ClickHouseStore) Write(ctx context.Context, points []point.Point) error {
	if len(points) == 0 {
		return nil
	}

	runID, err := uuid.Parse(s.runID)
	if err != nil {
		return fmt.Errorf("parsing run id %q: %w", s.runID, err)
	}

	batch, err := s.conn.PrepareBatch(ctx, insertQuery(s.cfg.qualifiedTable()))
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}

	for i := range points {
		p := &points[i]

		if err := batch.Append(
			runID,
			p.Measurement,
			p.Kind.String(),
			p.Field,
			p.Value,
			p.Time.UTC(),
			p.Tags,
		); err != nil {
			_ = batch.Abort()

			return fmt.Errorf("appending point %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch of %d points: %w", len(points), err)
	}

	return nil
}

// Stop closes the ClickHouse connection.
func (s *ClickHouseStore) Stop() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

func insertQuery(table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (run_id, measurement, kind, field, value, time, tags)",
		table,
	)
}

func deleteQuery(table string, req DeleteRequest) (string, []any) {
	var b strings.Builder

	fmt.Fprintf(&b, "ALTER TABLE %s DELETE WHERE time >= ? AND time < ?", table)

	if req.Predicate != "" {
		fmt.Fprintf(&b, " AND (%s)", req.Predicate)
	}

	return b.String(), []any{req.Start.UTC(), req.Stop.UTC()}
}
