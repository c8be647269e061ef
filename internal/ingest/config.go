package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/casefeed/internal/export"
	"github.com/ethpandaops/casefeed/internal/point"
	"github.com/ethpandaops/casefeed/internal/rollup"
	"github.com/ethpandaops/casefeed/internal/source"
)

// EnvPrefix prefixes environment overrides. Nested keys are joined with
// a double underscore: CASEFEED_STORAGE__BACKEND=clickhouse.
const EnvPrefix = "CASEFEED_"

// Malformed row policies.
const (
	PolicyFail = "fail"
	PolicySkip = "skip"
)

// Config is the top-level configuration for an ingest run.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// DataPath is the directory holding the daily report files.
	DataPath string `yaml:"data_path"`

	// CredentialsFile holds the store token and target names.
	CredentialsFile string `yaml:"credentials_file"`

	// Region restricts rows to a single region.
	Region source.Filter `yaml:"region"`

	// Keys names the coarse and fine key columns.
	Keys KeysConfig `yaml:"keys"`

	// TimestampField is the column holding the row's last-update time.
	TimestampField string `yaml:"timestamp_field"`

	// Metrics are the numeric columns turned into point fields.
	Metrics []string `yaml:"metrics"`

	// IgnoredTags are columns never carried as tags.
	IgnoredTags []string `yaml:"ignored_tags"`

	// Measurements names the cumulative and delta measurements.
	Measurements point.Measurements `yaml:"measurements"`

	// OnMalformedRow is fail or skip. Defaults to fail.
	OnMalformedRow string `yaml:"on_malformed_row"`

	// Wipe configures the range deletion issued before the first file.
	Wipe WipeConfig `yaml:"wipe"`

	// Resume configures where a run starts and where state is kept.
	Resume ResumeConfig `yaml:"resume"`

	// Storage selects the write backend.
	Storage export.Config `yaml:"storage"`

	// Health configures the Prometheus metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// KeysConfig names the key path columns.
type KeysConfig struct {
	Coarse      string `yaml:"coarse"`
	Fine        string `yaml:"fine"`
	Placeholder string `yaml:"placeholder"`
}

// WipeConfig configures the startup range deletion. The range ends at
// the run's start time.
type WipeConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Start     time.Time `yaml:"start"`
	Predicate string    `yaml:"predicate"`
}

// ResumeConfig configures checkpoint resume.
type ResumeConfig struct {
	// From is the file name to start at, matched exactly.
	From string `yaml:"from"`

	// StatePath is a bbolt file holding tracker baselines. Empty disables
	// state persistence.
	StatePath string `yaml:"state_path"`
}

// DefaultConfig returns a Config with the daily report defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		DataPath: "./data",
		Region: source.Filter{
			Field: "Country_Region",
			Value: "US",
		},
		Keys: KeysConfig{
			Coarse:      "Province_State",
			Fine:        "Admin2",
			Placeholder: rollup.DefaultPlaceholder,
		},
		TimestampField: "Last_Update",
		Metrics: []string{
			"Confirmed", "Deaths", "Recovered", "Active",
			"Incidence_Rate", "Case-Fatality_Ratio",
		},
		IgnoredTags: []string{
			"FIPS", "Lat", "Long_", "Latitude", "Longitude",
			"Combined_Key", "Last_Update", "Country_Region",
		},
		Measurements:   point.DefaultMeasurements(),
		OnMalformedRow: PolicyFail,
		Wipe: WipeConfig{
			Enabled: true,
			Start:   time.Date(2019, 10, 1, 0, 0, 0, 0, time.UTC),
		},
		Storage: export.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnv layers CASEFEED_* variables over cfg. Only keys present in
// the environment are touched.
func applyEnv(cfg *Config) error {
	k := koanf.New(".")

	provider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

		return strings.ReplaceAll(s, "__", ".")
	})

	if err := k.Load(provider, nil); err != nil {
		return err
	}

	if len(k.Keys()) == 0 {
		return nil
	}

	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"})
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("data_path is required")
	}

	if c.Storage.Backend == export.BackendInflux && c.CredentialsFile == "" {
		return errors.New("credentials_file is required for the influx backend")
	}

	if c.Keys.Coarse == "" || c.Keys.Fine == "" {
		return errors.New("keys.coarse and keys.fine are required")
	}

	if c.Keys.Coarse == c.Keys.Fine {
		return errors.New("keys.coarse and keys.fine must differ")
	}

	if c.TimestampField == "" {
		return errors.New("timestamp_field is required")
	}

	if len(c.Metrics) == 0 {
		return errors.New("at least one metric is required")
	}

	if c.Measurements.Cumulative == "" || c.Measurements.Delta == "" {
		return errors.New("measurements.cumulative and measurements.delta are required")
	}

	if c.Measurements.Cumulative == c.Measurements.Delta {
		return errors.New("measurements.cumulative and measurements.delta must differ")
	}

	switch c.OnMalformedRow {
	case PolicyFail, PolicySkip:
	default:
		return fmt.Errorf("on_malformed_row must be %q or %q, got %q",
			PolicyFail, PolicySkip, c.OnMalformedRow)
	}

	if c.Wipe.Enabled && c.Wipe.Start.IsZero() {
		return errors.New("wipe.start is required when wipe is enabled")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	return nil
}

// Schema derives the row schema from the configuration.
func (c *Config) Schema() *Schema {
	placeholder := c.Keys.Placeholder
	if placeholder == "" {
		placeholder = rollup.DefaultPlaceholder
	}

	return NewSchema(Schema{
		Metrics:        c.Metrics,
		Ignored:        c.IgnoredTags,
		CoarseField:    c.Keys.Coarse,
		FineField:      c.Keys.Fine,
		TimestampField: c.TimestampField,
		Measurements:   c.Measurements,
		Placeholder:    placeholder,
	})
}
