package metrics

import (
	"net/http"
	"strconv"
	"time"

	"hls-preview/internal/playback"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the preview service.
// It implements playback.Recorder.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	sessionsOpened  prometheus.Counter
	sessionsClosed  prometheus.Counter
	faultsTotal     *prometheus.CounterVec
	recoveriesTotal *prometheus.CounterVec
	liveEngines     prometheus.Gauge
	mountedSurfaces prometheus.Gauge
	catalogRequests *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ playback.Recorder = (*Metrics)(nil)

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_preview_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_preview_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_preview_sessions_opened_total",
			Help: "Total number of stream sessions opened",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_preview_sessions_closed_total",
			Help: "Total number of stream sessions closed",
		}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_preview_faults_total",
			Help: "Engine faults observed by sessions",
		}, []string{"kind", "fatal"}),
		recoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_preview_recoveries_total",
			Help: "Recovery actions taken in response to faults",
		}, []string{"action"}),
		liveEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_preview_live_engines",
			Help: "Number of streaming engines currently attached to surfaces",
		}),
		mountedSurfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_preview_mounted_surfaces",
			Help: "Number of mounted playback surfaces",
		}),
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_preview_catalog_requests_total",
			Help: "Requests made to the template catalog, by operation and outcome",
		}, []string{"op", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_preview_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsOpened,
		m.sessionsClosed,
		m.faultsTotal,
		m.recoveriesTotal,
		m.liveEngines,
		m.mountedSurfaces,
		m.catalogRequests,
		m.requestDuration,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// ObserveRequest records the latency of one request.
func (m *Metrics) ObserveRequest(method, route string, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) SessionOpened() {
	m.sessionsOpened.Inc()
}

func (m *Metrics) SessionClosed() {
	m.sessionsClosed.Inc()
}

func (m *Metrics) FaultObserved(kind playback.FaultKind, fatal bool) {
	m.faultsTotal.WithLabelValues(kind.String(), strconv.FormatBool(fatal)).Inc()
}

func (m *Metrics) RecoveryAttempted(action playback.Action) {
	m.recoveriesTotal.WithLabelValues(action.String()).Inc()
}

// CatalogRequest records one catalog call; err decides the outcome label.
func (m *Metrics) CatalogRequest(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.catalogRequests.WithLabelValues(op, outcome).Inc()
}

// SetLiveEngines sets the live engines gauge.
func (m *Metrics) SetLiveEngines(n int) {
	m.liveEngines.Set(float64(n))
}

// SetMountedSurfaces sets the mounted surfaces gauge.
func (m *Metrics) SetMountedSurfaces(n int) {
	m.mountedSurfaces.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. live engines).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
