package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowDisabledAlwaysPasses(t *testing.T) {
	l := New(Config{Enabled: false, RequestsPerWindow: 1, Window: time.Second})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("client-a"))
	}
}

func TestAllowWithinWindow(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 3, Window: time.Minute})

	assert.True(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"), "fourth request in the same window must be rejected")
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 1, Window: 10 * time.Millisecond})

	require.True(t, l.Allow("client-a"))
	require.False(t, l.Allow("client-a"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Allow("client-a"), "new window should reopen the budget")
}

func TestAllowPerKeyIsolation(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 1, Window: time.Minute})

	assert.True(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"), "distinct keys must not share a budget")
	assert.False(t, l.Allow("client-a"))
}

func TestAllowConcurrentSameKey(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 50, Window: time.Minute})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("client-a") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed, "admission count must not race past the configured limit")
}

func TestAllowWhitelistedIPBypassesLimit(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 1, Window: time.Minute, WhitelistIPs: []string{"127.0.0.1"}})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("127.0.0.1"), "a whitelisted IP must never be limited")
	}
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "non-whitelisted clients remain subject to the limit")
}

func TestRemainingReportsBudgetAndRetryAfter(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 2, Window: time.Minute})

	remaining, retryAfter := l.Remaining("client-a")
	assert.Equal(t, 2, remaining, "an untouched key reports its full budget")
	assert.Zero(t, retryAfter)

	require.True(t, l.Allow("client-a"))
	remaining, _ = l.Remaining("client-a")
	assert.Equal(t, 1, remaining)

	require.True(t, l.Allow("client-a"))
	require.False(t, l.Allow("client-a"))
	remaining, retryAfter = l.Remaining("client-a")
	assert.Zero(t, remaining)
	assert.Greater(t, retryAfter, time.Duration(0), "an exhausted budget reports a positive retry-after")
}

func TestLimitReportsConfiguredBudget(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 100, Window: time.Minute})
	assert.Equal(t, 100, l.Limit())
}

func TestSweepRemovesIdleWindows(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerWindow: 1, Window: time.Minute})
	l.Allow("client-a")

	l.Sweep(0)

	l.mu.Lock()
	_, exists := l.clients["client-a"]
	l.mu.Unlock()
	assert.False(t, exists, "sweep with a zero idle threshold should evict every tracked window")
}
