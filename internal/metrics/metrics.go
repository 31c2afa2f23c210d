// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	gridEvents      *prometheus.CounterVec
	saves           *prometheus.CounterVec
	poolsIssued     *prometheus.CounterVec
	remoteSaveTime  prometheus.Histogram
	localSaveErrors prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

// New registers the collectors on a private registry so tests and multiple
// servers in one process do not collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		gridEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libprep_grid_events_total",
			Help: "Grid events dispatched, by kind and outcome",
		}, []string{"kind", "outcome"}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libprep_remote_saves_total",
			Help: "Group saves to the remote store, by status code",
		}, []string{"code"}),
		poolsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libprep_pool_numbers_total",
			Help: "Pool number issuances, by outcome",
		}, []string{"outcome"}),
		remoteSaveTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "libprep_remote_save_duration_seconds",
			Help:    "Duration of one group save to the remote store",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		localSaveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "libprep_local_save_errors_total",
			Help: "Failed writes of a snapshot to the local store",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libprep_http_requests_total",
			Help: "HTTP requests served, by method and status",
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) GridEvent(kind string, err error) {
	if m == nil {
		return
	}
	m.gridEvents.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) RemoteSave(code string, took time.Duration) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(code).Inc()
	m.remoteSaveTime.Observe(took.Seconds())
}

func (m *Metrics) PoolIssued(err error) {
	if m == nil {
		return
	}
	m.poolsIssued.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) LocalSaveFailed() {
	if m == nil {
		return
	}
	m.localSaveErrors.Inc()
}

func (m *Metrics) HTTPRequest(method, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
