package worker

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/nabbar/bifrost/internal/metrics"
)

// Worker is the runtime aggregate of one ProxyType: its resource limits,
// its admission gate, its connection pool ledger, and its metrics. It is
// created once at startup and shared by every connection task in its
// domain; engines borrow a reference to it, they never own it.
//
// The admission gate is a golang.org/x/sync/semaphore.Weighted sized at
// MaxConnections, the same primitive nabbar-golib/semaphore/sem wraps for
// bounded concurrent work. TryAcquire is the CAS-safe, non-blocking
// operation the spec requires: the decision and the increment happen in
// one atomic step, so a read-then-increment race between concurrent
// accepts cannot occur.
type Worker struct {
	Type    ProxyType
	Limits  WorkerResourceLimits
	Metrics *metrics.PerformanceMetrics
	Pool    *ConnectionPool

	sem    *semaphore.Weighted
	active int64
}

// New builds a Worker for ProxyType t with the given limits. reg may be
// nil (tests) or a prometheus.Registerer the domain's counters are
// registered on.
func New(t ProxyType, limits WorkerResourceLimits, maxIdlePerHost int, reg prometheus.Registerer) *Worker {
	return &Worker{
		Type:    t,
		Limits:  limits,
		Metrics: metrics.New(t.String(), reg),
		Pool:    NewConnectionPool(maxIdlePerHost, limits.IdleTimeout),
		sem:     semaphore.NewWeighted(int64(limits.MaxConnections)),
	}
}

// CanAccept reports whether the domain has headroom for one more
// connection. Non-blocking; does not reserve capacity.
func (w *Worker) CanAccept() bool {
	return atomic.LoadInt64(&w.active) < int64(w.Limits.MaxConnections)
}

// Admit atomically reserves one connection slot. It must only be treated
// as granted if ok is true — TryAcquire either claims the slot or fails
// without side effects, so concurrent callers racing CanAccept+Admit can
// never both believe they got the last slot.
func (w *Worker) Admit() (ok bool) {
	if !w.sem.TryAcquire(1) {
		return false
	}
	n := atomic.AddInt64(&w.active, 1)
	w.Metrics.SetConnectionsActive(n)
	return true
}

// Release gives back one admitted slot. Safe to call at most once per
// successful Admit; extra calls are floored at zero rather than going
// negative or over-releasing the semaphore.
func (w *Worker) Release() {
	for {
		old := atomic.LoadInt64(&w.active)
		if old <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&w.active, old, old-1) {
			w.sem.Release(1)
			w.Metrics.SetConnectionsActive(old - 1)
			return
		}
	}
}

// ActiveConnections returns the current admitted-connection count.
func (w *Worker) ActiveConnections() int64 {
	return atomic.LoadInt64(&w.active)
}

// Health derives Healthy/Warning/Critical from connection utilization.
func (w *Worker) Health() Health {
	if w.Limits.MaxConnections <= 0 {
		return Critical
	}
	u := float64(atomic.LoadInt64(&w.active)) / float64(w.Limits.MaxConnections)
	return healthFromUtilization(u)
}
