package worker

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabbar/bifrost/internal/bferr"
)

func testLimits(max int) WorkerResourceLimits {
	l := DefaultLimits(Reverse)
	l.MaxConnections = max
	return l
}

func TestAdmitRespectsMaxConnections(t *testing.T) {
	w := New(Reverse, testLimits(1), 4, nil)

	require.True(t, w.Admit(), "first admission must succeed")
	assert.False(t, w.Admit(), "second concurrent admission must be rejected at max_connections=1")

	w.Release()
	assert.True(t, w.Admit(), "release must free the slot for the next accept")
}

func TestCanAcceptReflectsActiveCount(t *testing.T) {
	w := New(Reverse, testLimits(1), 4, nil)

	assert.True(t, w.CanAccept())
	require.True(t, w.Admit())
	assert.False(t, w.CanAccept())

	w.Release()
	assert.True(t, w.CanAccept())
}

func TestReleaseFlooredAtZero(t *testing.T) {
	w := New(Reverse, testLimits(4), 4, nil)

	w.Release()
	w.Release()
	assert.Equal(t, int64(0), w.ActiveConnections(), "extra releases must never go negative")

	require.True(t, w.Admit())
	assert.Equal(t, int64(1), w.ActiveConnections())
}

// TestConcurrentAdmitNeverExceedsCap launches many concurrent admitters
// against a small cap and asserts the testable property of spec §8:
// 0 ≤ connections_active ≤ max_connections at all times, and that exactly
// as many admissions succeed as the cap allows before any release.
func TestConcurrentAdmitNeverExceedsCap(t *testing.T) {
	const cap = 10
	const attempts = 200

	w := New(Reverse, testLimits(cap), 4, nil)

	var wg sync.WaitGroup
	var admitted int64

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Admit() {
				atomic.AddInt64(&admitted, 1)
				assert.LessOrEqual(t, w.ActiveConnections(), int64(cap))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(cap), admitted, "exactly max_connections admissions should succeed before any release")
	assert.Equal(t, int64(cap), w.ActiveConnections())
}

func TestHealthThresholds(t *testing.T) {
	w := New(Reverse, testLimits(100), 4, nil)

	assert.Equal(t, Healthy, w.Health())

	for i := 0; i < 85; i++ {
		require.True(t, w.Admit())
	}
	assert.Equal(t, Warning, w.Health())

	for i := 0; i < 10; i++ {
		require.True(t, w.Admit())
	}
	assert.Equal(t, Critical, w.Health())
}

func TestGuardRecoversPanicAndAlwaysReleases(t *testing.T) {
	released := false
	err := Guard(nil, func() { released = true }, func() error {
		panic("boom")
	})

	require.Error(t, err)
	assert.Equal(t, bferr.KindInternal, bferr.KindOf(err))
	assert.True(t, released, "release hook must run even when fn panics")
}

func TestGuardRunsReleaseOnNormalReturn(t *testing.T) {
	released := false
	err := Guard(nil, func() { released = true }, func() error {
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, released)
}

type fakeConn struct {
	net.Conn
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestConnectionPoolReuseAndCap(t *testing.T) {
	p := NewConnectionPool(1, time.Minute)

	assert.Nil(t, p.Acquire("host:80"), "empty pool has nothing to reuse")

	c1, c2 := &fakeConn{}, &fakeConn{}
	p.Return("host:80", c1)
	p.Return("host:80", c2) // over cap: closes c2 since the queue is already full

	assert.True(t, c2.closed, "connection beyond max-idle-per-host must be closed, not queued")

	got := p.Acquire("host:80")
	assert.Same(t, net.Conn(c1), got)
}

func TestConnectionPoolExpiresIdleConns(t *testing.T) {
	p := NewConnectionPool(4, time.Millisecond)
	c := &fakeConn{}
	p.Return("host:80", c)

	time.Sleep(5 * time.Millisecond)
	got := p.Acquire("host:80")

	assert.Nil(t, got, "expired idle connections must not be handed back")
	assert.True(t, c.closed)
}
