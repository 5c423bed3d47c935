package worker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// idleConn is one pooled upstream connection, tagged with the time it
// was returned to the pool so the ledger can expire it.
type idleConn struct {
	conn   net.Conn
	idleAt time.Time
}

// ConnectionPool is the shared, per-domain ledger of active and idle
// upstream connections. active is a lock-free atomic counter; the idle
// map is behind a regular mutex with per-host queues and a max-idle cap,
// matching the spec's "fine-grained lock, per-host queues, max-idle cap"
// shared-resource policy.
type ConnectionPool struct {
	active      int64
	maxIdleHost int
	idleTTL     time.Duration

	mu   sync.Mutex
	idle map[string][]idleConn
}

// NewConnectionPool builds a ledger allowing up to maxIdlePerHost idle
// sockets per upstream host, expired after idleTTL.
func NewConnectionPool(maxIdlePerHost int, idleTTL time.Duration) *ConnectionPool {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 8
	}
	return &ConnectionPool{
		maxIdleHost: maxIdlePerHost,
		idleTTL:     idleTTL,
		idle:        make(map[string][]idleConn),
	}
}

// Active returns the number of connections currently counted against the
// pool (not necessarily idle — this tracks upstream sockets in flight).
func (p *ConnectionPool) Active() int64 {
	return atomic.LoadInt64(&p.active)
}

// Acquire tries to reuse an idle connection for host; it returns nil if
// none is available or fresh enough. On a miss the caller is expected to
// dial and call Track.
func (p *ConnectionPool) Acquire(host string) net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.idle[host]
	for len(q) > 0 {
		c := q[len(q)-1]
		q = q[:len(q)-1]
		p.idle[host] = q
		if p.idleTTL > 0 && time.Since(c.idleAt) > p.idleTTL {
			_ = c.conn.Close()
			continue
		}
		return c.conn
	}
	return nil
}

// Track increments the active counter for a newly dialed or reused
// connection. Must be paired with exactly one Release.
func (p *ConnectionPool) Track() {
	atomic.AddInt64(&p.active, 1)
}

// Release decrements the active counter, floored at zero.
func (p *ConnectionPool) Release() {
	for {
		old := atomic.LoadInt64(&p.active)
		if old <= 0 {
			atomic.StoreInt64(&p.active, 0)
			return
		}
		if atomic.CompareAndSwapInt64(&p.active, old, old-1) {
			return
		}
	}
}

// Return hands an idle, reusable connection back to the ledger for host.
// If the per-host queue is already at its cap, the connection is closed
// instead of pooled.
func (p *ConnectionPool) Return(host string, c net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.idle[host]
	if len(q) >= p.maxIdleHost {
		_ = c.Close()
		return
	}
	p.idle[host] = append(q, idleConn{conn: c, idleAt: time.Now()})
}

// CloseAll closes every idle connection, used during graceful shutdown.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for host, q := range p.idle {
		for _, c := range q {
			_ = c.conn.Close()
		}
		delete(p.idle, host)
	}
}
