// Package metrics implements PerformanceMetrics: the lock-free atomic
// counter set every worker domain exposes, plus its Prometheus
// registration. Grounded on nabbar-golib's use of
// github.com/prometheus/client_golang throughout its monitor/
// components, generalized here from "one collector per component" to
// "one collector set per ProxyType worker domain".
package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// emaSmoothing is the alpha used for the average_response_time_ms EMA,
// fixed by the spec at 0.1.
const emaSmoothing = 0.1

// PerformanceMetrics is the atomic counter set for one worker domain.
// Every field updates with relaxed ordering; a Snapshot is not globally
// consistent across fields but each counter is individually monotone
// (connections_active and the EMA excepted, by design).
type PerformanceMetrics struct {
	requestsTotal      uint64
	responseBytesTotal uint64
	filesServed        uint64
	filesStreamed      uint64
	connectionsActive  int64
	connectionErrors   uint64

	// avgResponseMs stores the EMA as math.Float64bits for atomic access.
	avgResponseMs uint64

	domain string
	reg    prometheus.Registerer
	coll   *collectors
}

type collectors struct {
	requestsTotal      prometheus.Counter
	responseBytesTotal prometheus.Counter
	filesServed        prometheus.Counter
	filesStreamed      prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionErrors   prometheus.Counter
	avgResponseMs      prometheus.Gauge
}

// New builds a PerformanceMetrics for the named worker domain and, if reg
// is non-nil, registers its Prometheus collectors on it. reg may be nil in
// tests that don't care about exposition.
func New(domain string, reg prometheus.Registerer) *PerformanceMetrics {
	m := &PerformanceMetrics{domain: domain, reg: reg}

	if reg != nil {
		c := &collectors{
			requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "bifrost_requests_total",
				Help:        "Total requests handled by this worker domain.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
			responseBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "bifrost_response_bytes_total",
				Help:        "Total response bytes sent by this worker domain.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
			filesServed: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "bifrost_files_served_total",
				Help:        "Total static files served.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
			filesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "bifrost_files_streamed_total",
				Help:        "Total static files served via the streaming path.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
			connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "bifrost_connections_active",
				Help:        "Currently admitted connections in this worker domain.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
			connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "bifrost_connection_errors_total",
				Help:        "Connection and upstream errors observed by this worker domain.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
			avgResponseMs: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "bifrost_average_response_time_ms",
				Help:        "EMA (alpha=0.1) of response time in milliseconds.",
				ConstLabels: prometheus.Labels{"domain": domain},
			}),
		}
		reg.MustRegister(c.requestsTotal, c.responseBytesTotal, c.filesServed,
			c.filesStreamed, c.connectionsActive, c.connectionErrors, c.avgResponseMs)
		m.coll = c
	}

	return m
}

func (m *PerformanceMetrics) IncRequests() {
	atomic.AddUint64(&m.requestsTotal, 1)
	if m.coll != nil {
		m.coll.requestsTotal.Inc()
	}
}

func (m *PerformanceMetrics) AddResponseBytes(n int64) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.responseBytesTotal, uint64(n))
	if m.coll != nil {
		m.coll.responseBytesTotal.Add(float64(n))
	}
}

func (m *PerformanceMetrics) IncFilesServed() {
	atomic.AddUint64(&m.filesServed, 1)
	if m.coll != nil {
		m.coll.filesServed.Inc()
	}
}

func (m *PerformanceMetrics) IncFilesStreamed() {
	atomic.AddUint64(&m.filesStreamed, 1)
	if m.coll != nil {
		m.coll.filesStreamed.Inc()
	}
}

func (m *PerformanceMetrics) IncConnectionErrors() {
	atomic.AddUint64(&m.connectionErrors, 1)
	if m.coll != nil {
		m.coll.connectionErrors.Inc()
	}
}

// SetConnectionsActive mirrors the admission controller's counter onto the
// metrics gauge; it never goes negative (floored at zero by the caller).
func (m *PerformanceMetrics) SetConnectionsActive(n int64) {
	atomic.StoreInt64(&m.connectionsActive, n)
	if m.coll != nil {
		m.coll.connectionsActive.Set(float64(n))
	}
}

// ObserveResponseTime folds d (milliseconds) into the EMA with
// alpha=0.1, kept in floating point internally.
func (m *PerformanceMetrics) ObserveResponseTime(ms float64) {
	for {
		old := atomic.LoadUint64(&m.avgResponseMs)
		oldF := math.Float64frombits(old)
		var next float64
		if oldF == 0 {
			next = ms
		} else {
			next = emaSmoothing*ms + (1-emaSmoothing)*oldF
		}
		if atomic.CompareAndSwapUint64(&m.avgResponseMs, old, math.Float64bits(next)) {
			if m.coll != nil {
				m.coll.avgResponseMs.Set(next)
			}
			return
		}
	}
}

// Snapshot is a point-in-time, non-atomic-as-a-whole read of every
// counter, suitable for a JSON health/metrics endpoint.
type Snapshot struct {
	RequestsTotal         uint64  `json:"requests_total"`
	ResponseBytesTotal    uint64  `json:"response_bytes_total"`
	FilesServed           uint64  `json:"files_served"`
	FilesStreamed         uint64  `json:"files_streamed"`
	ConnectionsActive     int64   `json:"connections_active"`
	ConnectionErrors      uint64  `json:"connection_errors"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

func (m *PerformanceMetrics) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:         atomic.LoadUint64(&m.requestsTotal),
		ResponseBytesTotal:    atomic.LoadUint64(&m.responseBytesTotal),
		FilesServed:           atomic.LoadUint64(&m.filesServed),
		FilesStreamed:         atomic.LoadUint64(&m.filesStreamed),
		ConnectionsActive:     atomic.LoadInt64(&m.connectionsActive),
		ConnectionErrors:      atomic.LoadUint64(&m.connectionErrors),
		AverageResponseTimeMs: math.Float64frombits(atomic.LoadUint64(&m.avgResponseMs)),
	}
}

// Handler exposes reg's registered collectors via the standard
// Prometheus text exposition format (original_source/src/monitoring.rs'
// metrics surface, text encoding itself out of scope per spec §1). reg
// should be the same prometheus.Registerer every worker domain's New was
// given.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
