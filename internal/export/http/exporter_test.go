package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/casefeed/internal/point"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type capture struct {
	mu       sync.Mutex
	requests int
	body     []byte
	encoding string
	ctype    string
	header   string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		c.mu.Lock()
		c.requests++
		c.body = body
		c.encoding = r.Header.Get("Content-Encoding")
		c.ctype = r.Header.Get("Content-Type")
		c.header = r.Header.Get("X-Source")
		c.mu.Unlock()

		w.WriteHeader(status)
	}
}

func testRecords() []*Record {
	ts := time.Date(2020, 4, 1, 23, 34, 0, 0, time.UTC)

	return NewRecords("run-1", []point.Point{
		{
			Kind:        point.KindCumulative,
			Measurement: "daily",
			Tags:        map[string]string{"Province_State": "X", "Admin2": "Alpha"},
			Field:       "Confirmed",
			Value:       10,
			Time:        ts,
		},
		{
			Kind:        point.KindDelta,
			Measurement: "daily_delta",
			Tags:        map[string]string{"Province_State": "X", "Admin2": "Alpha"},
			Field:       "Confirmed",
			Value:       10,
			Time:        ts,
		},
	})
}

func TestExporter_ExportItems(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(http.StatusOK))
	defer server.Close()

	exporter, err := NewExporter(testLog(), Config{
		Address:     server.URL,
		Compression: CompressionGzip,
		Headers:     map[string]string{"X-Source": "casefeed"},
	})
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), testRecords()))

	assert.Equal(t, 1, c.requests)
	assert.Equal(t, "application/x-ndjson", c.ctype)
	assert.Equal(t, "gzip", c.encoding)
	assert.Equal(t, "casefeed", c.header)

	body, err := Decompress(c.encoding, c.body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "daily", first.Measurement)
	assert.Equal(t, "cumulative", first.Kind)
	assert.Equal(t, "Alpha", first.Tags["Admin2"])
	assert.Equal(t, 10.0, first.Value)

	assert.Contains(t, lines[1], `"kind":"delta"`)
}

func TestExporter_NoCompression(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(http.StatusNoContent))
	defer server.Close()

	exporter, err := NewExporter(testLog(), Config{
		Address:     server.URL,
		Compression: CompressionNone,
	})
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), testRecords()))

	assert.Empty(t, c.encoding)
	assert.Contains(t, string(c.body), `"measurement":"daily_delta"`)
}

func TestExporter_ServerError(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer server.Close()

	exporter, err := NewExporter(testLog(), Config{
		Address:     server.URL,
		Compression: CompressionNone,
	})
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	err = exporter.ExportItems(context.Background(), testRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 500")
}

func TestExporter_EmptyBatch(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(http.StatusOK))
	defer server.Close()

	exporter, err := NewExporter(testLog(), Config{Address: server.URL})
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), nil))
	assert.Zero(t, c.requests)
}

func TestNewExporter_InvalidConfig(t *testing.T) {
	_, err := NewExporter(testLog(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")

	_, err = NewExporter(testLog(), Config{Address: "http://localhost", Compression: "lz4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid compression type")
}

func TestNewProcessor(t *testing.T) {
	exporter, err := NewExporter(testLog(), Config{
		Address: "http://localhost",
		Async:   true,
	})
	require.NoError(t, err)

	proc, err := NewProcessor(testLog(), NewAcknowledger(exporter), exporter.Config(), "test")
	require.NoError(t, err)
	require.NotNil(t, proc)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Address: "http://localhost"}
	cfg.ApplyDefaults()

	assert.Equal(t, CompressionGzip, cfg.Compression)
	assert.Equal(t, 30*time.Second, cfg.ExportTimeout)
	assert.Equal(t, 5000, cfg.BatchSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.IsKeepAlive())
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateAsync(t *testing.T) {
	cfg := Config{Address: "http://localhost", Async: true}
	cfg.ApplyDefaults()
	cfg.BatchSize = cfg.MaxQueueSize + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_queue_size")
}
