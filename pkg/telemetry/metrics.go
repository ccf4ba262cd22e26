package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "larder"

// latencyBuckets span a cached local read to a slow replica handshake.
var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the Prometheus series for the database. Every method is a
// no-op on a nil *Metrics, which is what disabled metrics are.
type Metrics struct {
	addr     string
	registry *prometheus.Registry
	server   *http.Server

	connectAttempts *prometheus.CounterVec
	fallbacks       prometheus.Counter
	initDuration    *prometheus.HistogramVec
	mode            *prometheus.GaugeVec

	statements        *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec

	syncs  *prometheus.CounterVec
	frames prometheus.Counter
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	m := &Metrics{
		addr:     cfg.Addr,
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_connect_attempts_total",
			Help:      "Embedded replica open attempts by URL scheme and result.",
		}, []string{"scheme", "result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_fallbacks_total",
			Help:      "Inits that gave up on the replica and opened the local file.",
		}),
		initDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "init_duration_seconds",
			Help:      "Time from init call to usable connection.",
			Buckets:   latencyBuckets,
		}, []string{"mode"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_mode",
			Help:      "1 for the active connection mode.",
		}, []string{"mode"}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Statements run by execute and batch calls.",
		}, []string{"operation", "status"}),
		statementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_duration_seconds",
			Help:      "Duration of execute and batch calls, lock wait included.",
			Buckets:   latencyBuckets,
		}, []string{"operation"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Replica sync exchanges by status.",
		}, []string{"status"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_synced_total",
			Help:      "Replication frames applied by sync.",
		}),
	}

	m.registry.MustRegister(
		m.connectAttempts, m.fallbacks, m.initDuration, m.mode,
		m.statements, m.statementDuration,
		m.syncs, m.frames,
	)
	return m
}

// RecordConnectAttempt counts one replica open for a URL scheme.
func (m *Metrics) RecordConnectAttempt(scheme string, ok bool) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(scheme, status(ok)).Inc()
}

// RecordFallback counts an init that ended on the local file.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// RecordInit observes a finished init and flips the mode gauge to mode.
func (m *Metrics) RecordInit(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.initDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.mode.Reset()
	m.mode.WithLabelValues(mode).Set(1)
}

// RecordStatements counts the statements of one execute or batch call.
func (m *Metrics) RecordStatements(operation string, count int, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(operation, status(err == nil)).Add(float64(count))
	m.statementDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordSync counts a sync exchange and, when it worked, its frames.
func (m *Metrics) RecordSync(frames uint64, err error) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(status(err == nil)).Inc()
	if err == nil {
		m.frames.Add(float64(frames))
	}
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Registry exposes the registry for tests and embedding. Nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on the configured address in the background.
func (m *Metrics) Serve() error {
	if m == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", m.addr).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Stop shuts the endpoint down if Serve started it.
func (m *Metrics) Stop(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
