// Package monitoring provides Prometheus-based metrics collection for the
// fleet backend: worker lifecycle counters, resource sampling latency,
// health verdicts, HTTP request metrics, and WebSocket connection gauges.
package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Worker lifecycle metrics
	WorkersRunning prometheus.Gauge
	LaunchesTotal  *prometheus.CounterVec
	StopsTotal     *prometheus.CounterVec
	CrashesTotal   prometheus.Counter
	RestartsTotal  *prometheus.CounterVec

	// Monitoring metrics
	SampleDuration prometheus.Histogram
	SampleErrors   prometheus.Counter
	HealthVerdicts *prometheus.CounterVec
	AlertsTotal    *prometheus.CounterVec

	// Session metrics
	SessionsOpen prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	registry *prometheus.Registry

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats endpoint.
type Snapshot struct {
	TotalRequests  int64
	TotalErrors    int64
	WorkersRunning int64
	TotalLaunches  int64
	TotalCrashes   int64
	TotalRestarts  int64
}

// NewMetrics creates a new metrics collector backed by its own registry,
// so multiple instances can coexist in one process.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WorkersRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_workers_running",
				Help: "Number of running browser workers",
			},
		),
		LaunchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_worker_launches_total",
				Help: "Total number of worker launch attempts",
			},
			[]string{"outcome"},
		),
		StopsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_worker_stops_total",
				Help: "Total number of worker stop operations",
			},
			[]string{"mode"},
		),
		CrashesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_worker_crashes_total",
				Help: "Total number of unexpected worker exits",
			},
		),
		RestartsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_worker_restarts_total",
				Help: "Total number of automatic restart attempts",
			},
			[]string{"outcome"},
		),

		SampleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fleet_resource_sample_duration_seconds",
				Help:    "Resource sampling duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 3},
			},
		),
		SampleErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_resource_sample_errors_total",
				Help: "Total number of failed resource sampling attempts",
			},
		),
		HealthVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_health_verdicts_total",
				Help: "Total health evaluations by verdict",
			},
			[]string{"verdict"},
		),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_alerts_total",
				Help: "Total number of alerts emitted",
			},
			[]string{"type", "severity"},
		),

		SessionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_channel_sessions_open",
				Help: "Number of open worker channel sessions",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// Handler serves this collector's registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordLaunch records a worker launch attempt
func (m *Metrics) RecordLaunch(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.LaunchesTotal.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	m.snapshot.TotalLaunches++
	m.mu.Unlock()
}

// RecordStop records a worker stop operation
func (m *Metrics) RecordStop(force bool) {
	mode := "graceful"
	if force {
		mode = "forced"
	}
	m.StopsTotal.WithLabelValues(mode).Inc()
}

// RecordCrash records an unexpected worker exit
func (m *Metrics) RecordCrash() {
	m.CrashesTotal.Inc()

	m.mu.Lock()
	m.snapshot.TotalCrashes++
	m.mu.Unlock()
}

// RecordRestart records an automatic restart attempt
func (m *Metrics) RecordRestart(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.RestartsTotal.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	m.snapshot.TotalRestarts++
	m.mu.Unlock()
}

// RecordSample records a resource sampling attempt
func (m *Metrics) RecordSample(duration time.Duration, err error) {
	m.SampleDuration.Observe(duration.Seconds())
	if err != nil {
		m.SampleErrors.Inc()
	}
}

// RecordHealthVerdict records a health evaluation outcome
func (m *Metrics) RecordHealthVerdict(verdict string) {
	m.HealthVerdicts.WithLabelValues(verdict).Inc()
}

// RecordAlert records an emitted alert
func (m *Metrics) RecordAlert(alertType, severity string) {
	m.AlertsTotal.WithLabelValues(alertType, severity).Inc()
}

// SetWorkersRunning updates the running worker gauge
func (m *Metrics) SetWorkersRunning(n int) {
	m.WorkersRunning.Set(float64(n))

	m.mu.Lock()
	m.snapshot.WorkersRunning = int64(n)
	m.mu.Unlock()
}

// SetWSConnections updates the connected websocket client gauge
func (m *Metrics) SetWSConnections(n int) {
	m.WSConnections.Set(float64(n))
}

// GetSnapshot returns a copy of current metric values
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeSeconds returns the service uptime
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}
