// Package metrics exposes sync counters to Prometheus. Every method is
// safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	changes       *prometheus.CounterVec
	eventFailures *prometheus.CounterVec
	passFailures  *prometheus.CounterVec
	searchHits    *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	syncSkipped   prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New builds the collectors on a private registry, alongside the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturecal_changes_total",
			Help: "Calendar changes applied, by calendar and kind.",
		}, []string{"calendar", "kind"}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturecal_event_failures_total",
			Help: "Single-event remote operations that failed, by calendar and operation.",
		}, []string{"calendar", "op"}),
		passFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturecal_pass_failures_total",
			Help: "Calendar passes aborted because the remote index could not be fetched.",
		}, []string{"calendar"}),
		searchHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturecal_search_hits_total",
			Help: "Widened searches by the window that found the entry (or \"none\").",
		}, []string{"window"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fixturecal_sync_duration_seconds",
			Help:    "Duration of full sync runs.",
			Buckets: prometheus.DefBuckets,
		}),
		syncSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixturecal_sync_skipped_total",
			Help: "Sync triggers skipped because a run was already in progress.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturecal_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fixturecal_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.changes,
		m.eventFailures,
		m.passFailures,
		m.searchHits,
		m.syncDuration,
		m.syncSkipped,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Change(calendar, kind string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(calendar, kind).Inc()
}

func (m *Metrics) EventFailure(calendar, op string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(calendar, op).Inc()
}

func (m *Metrics) PassFailure(calendar string) {
	if m == nil {
		return
	}
	m.passFailures.WithLabelValues(calendar).Inc()
}

func (m *Metrics) SearchHit(window string) {
	if m == nil {
		return
	}
	m.searchHits.WithLabelValues(window).Inc()
}

func (m *Metrics) SyncDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) SyncSkipped() {
	if m == nil {
		return
	}
	m.syncSkipped.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
