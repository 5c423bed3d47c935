package reverseproxy

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathPredicate(t *testing.T) {
	p := PathPredicate{Pattern: "/api/**"}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	assert.True(t, p.Match(req))

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.False(t, p.Match(req2))
}

func TestHostPredicateCaseInsensitive(t *testing.T) {
	p := HostPredicate{Pattern: "*.Example.com"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "api.EXAMPLE.com:8443"
	assert.True(t, p.Match(req))
}

func TestMethodPredicate(t *testing.T) {
	p := NewMethodPredicate("GET", "HEAD")
	get := httptest.NewRequest(http.MethodGet, "/", nil)
	post := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.True(t, p.Match(get))
	assert.False(t, p.Match(post))
}

func TestHeaderPredicatePresenceOnly(t *testing.T) {
	q, err := newCompiledQuery("X-Tenant", "", "")
	assertNoErr(t, err)
	p := HeaderPredicate{q}

	withHeader := httptest.NewRequest(http.MethodGet, "/", nil)
	withHeader.Header.Set("X-Tenant", "acme")
	assert.True(t, p.Match(withHeader))

	withoutHeader := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, p.Match(withoutHeader))
}

func TestHeaderPredicateExactValue(t *testing.T) {
	q, err := newCompiledQuery("X-Tenant", "acme", "")
	assertNoErr(t, err)
	p := HeaderPredicate{q}

	match := httptest.NewRequest(http.MethodGet, "/", nil)
	match.Header.Set("X-Tenant", "acme")
	assert.True(t, p.Match(match))

	mismatch := httptest.NewRequest(http.MethodGet, "/", nil)
	mismatch.Header.Set("X-Tenant", "other")
	assert.False(t, p.Match(mismatch))
}

func TestQueryPredicateRegex(t *testing.T) {
	q, err := newCompiledQuery("version", "", `^v[0-9]+$`)
	assertNoErr(t, err)
	p := QueryPredicate{q}

	match := httptest.NewRequest(http.MethodGet, "/?version=v2", nil)
	assert.True(t, p.Match(match))

	mismatch := httptest.NewRequest(http.MethodGet, "/?version=beta", nil)
	assert.False(t, p.Match(mismatch))
}

func TestCookiePredicate(t *testing.T) {
	q, err := newCompiledQuery("session", "abc123", "")
	assertNoErr(t, err)
	p := CookiePredicate{q}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc123"})
	assert.True(t, p.Match(req))

	reqNoCookie := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, p.Match(reqNoCookie))
}

func TestRemoteAddrPredicate(t *testing.T) {
	_, cidr, err := net.ParseCIDR("10.0.0.0/8")
	assertNoErr(t, err)
	p := RemoteAddrPredicate{CIDRs: []*net.IPNet{cidr}}

	inside := httptest.NewRequest(http.MethodGet, "/", nil)
	inside.RemoteAddr = "10.1.2.3:5555"
	assert.True(t, p.Match(inside))

	outside := httptest.NewRequest(http.MethodGet, "/", nil)
	outside.RemoteAddr = "192.168.1.1:5555"
	assert.False(t, p.Match(outside))
}

func TestWeightPredicateAlwaysMatches(t *testing.T) {
	p := WeightPredicate{Group: "canary", Weight: 10}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, p.Match(req))
}

func assertNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
