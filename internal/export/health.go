package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "casefeed"

// HealthConfig configures the metrics server.
type HealthConfig struct {
	// Addr is the listen address. Empty disables the server; metrics
	// are still collected.
	Addr string `yaml:"addr"`
}

// HealthMetrics holds the ingest metrics and optionally serves them.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	FilesProcessed prometheus.Counter
	RowsProcessed  prometheus.Counter
	RowsSkipped    *prometheus.CounterVec // reason
	PointsWritten  *prometheus.CounterVec // measurement
	StoreErrors    *prometheus.CounterVec // backend, operation
	TrackedKeys    prometheus.Gauge

	PassDuration  prometheus.Histogram
	WriteDuration *prometheus.HistogramVec // backend
	BatchSize     prometheus.Histogram

	running atomic.Bool
}

// NewHealthMetrics creates the metrics and their registry.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Daily files whose batch was written.",
		}),
		RowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Region rows converted into points.",
		}),
		RowsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_skipped_total",
				Help:      "Rows skipped under the skip policy by reason.",
			},
			[]string{"reason"},
		),
		PointsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "points_written_total",
				Help:      "Points acknowledged by the store by measurement.",
			},
			[]string{"measurement"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Store failures by backend and operation.",
			},
			[]string{"backend", "operation"},
		),
		TrackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_keys",
			Help:      "Composite keys held by the delta tracker.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Time to read and convert one daily file.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		WriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Time to write one file's batch by backend.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"backend"},
		),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_points",
			Help:      "Points per file batch.",
			Buckets:   []float64{100, 1000, 5000, 10000, 25000, 50000, 100000},
		}),
	}

	reg.MustRegister(
		h.FilesProcessed,
		h.RowsProcessed,
		h.RowsSkipped,
		h.PointsWritten,
		h.StoreErrors,
		h.TrackedKeys,
		h.PassDuration,
		h.WriteDuration,
		h.BatchSize,
	)

	return h
}

// Start serves /metrics and /healthz. It is a no-op without an address.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln
	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Registry returns the metrics registry.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Addr returns the bound listener address, or the configured one
// before Start.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts the server down.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
