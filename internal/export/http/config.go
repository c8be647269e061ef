package http

import (
	"errors"
	"fmt"
	"time"
)

// Config configures the NDJSON point exporter.
type Config struct {
	// Address is the endpoint points are POSTed to.
	Address string `yaml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib, snappy.
	// Defaults to gzip.
	Compression string `yaml:"compression"`

	// ExportTimeout bounds a single request. Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Async hands batches to a background processor instead of
	// posting them inline. Writes still wait for delivery.
	Async bool `yaml:"async"`

	// BatchSize is the maximum records per request in async mode.
	// Defaults to 5000.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout flushes a partial async batch. Defaults to 5s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// MaxQueueSize bounds the async queue. Defaults to 100000.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of async export workers. Defaults to 1.
	Workers int `yaml:"workers"`

	// KeepAlive enables HTTP keep-alive connections. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// DefaultConfig returns the exporter defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionGzip,
		ExportTimeout: 30 * time.Second,
		BatchSize:     5000,
		BatchTimeout:  5 * time.Second,
		MaxQueueSize:  100000,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaults.BatchTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}

	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}

	if _, ok := codecs[c.Compression]; c.Compression != "" && !ok {
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	if !c.Async {
		return nil
	}

	if c.BatchSize <= 0 {
		return errors.New("batch_size must be greater than 0")
	}

	if c.BatchSize > c.MaxQueueSize {
		return errors.New("batch_size cannot be greater than max_queue_size")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}

	return nil
}

// IsKeepAlive reports whether keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}
