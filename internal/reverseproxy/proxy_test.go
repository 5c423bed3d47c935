package reverseproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/worker"
)

func newTestWorker() *worker.Worker {
	limits := worker.DefaultLimits(worker.Reverse)
	return worker.New(worker.Reverse, limits, 4, nil)
}

func TestEngineForwardsToMatchedTarget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	table, err := BuildTable([]RouteSpec{{
		ID:      "api",
		Match:   []MatchSpec{{Path: "/api/**"}},
		Targets: []Target{{ID: "up", URL: upstream.URL, Enabled: true}},
	}})
	require.NoError(t, err)

	e := NewEngine(table, newTestWorker(), logx.New(io.Discard, "error"))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "bifrost", rec.Header().Get("X-Proxy-Server"))
}

func TestEngineStripsPathPrefix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/widgets", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	table, err := BuildTable([]RouteSpec{{
		ID:              "api",
		Match:           []MatchSpec{{Path: "/api/**"}},
		Targets:         []Target{{ID: "up", URL: upstream.URL, Enabled: true}},
		StripPathPrefix: "/api",
	}})
	require.NoError(t, err)

	e := NewEngine(table, newTestWorker(), logx.New(io.Discard, "error"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEngineNoMatchingRouteReturns404(t *testing.T) {
	table, err := BuildTable([]RouteSpec{{
		ID:      "api",
		Match:   []MatchSpec{{Path: "/api/**"}},
		Targets: []Target{{ID: "up", URL: "http://unused.internal", Enabled: true}},
	}})
	require.NoError(t, err)

	e := NewEngine(table, newTestWorker(), logx.New(io.Discard, "error"))
	req := httptest.NewRequest(http.MethodGet, "/elsewhere", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineRetriesOnUpstreamFailure(t *testing.T) {
	attempts := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	table, err := BuildTable([]RouteSpec{{
		ID:      "api",
		Match:   []MatchSpec{{Path: "/**"}},
		Targets: []Target{{ID: "up", URL: upstream.URL, Enabled: true}},
		Retry: &RetryPolicy{
			MaxAttempts:     3,
			RetryOnStatuses: []int{http.StatusInternalServerError},
		},
	}})
	require.NoError(t, err)

	e := NewEngine(table, newTestWorker(), logx.New(io.Discard, "error"))
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, 3, attempts, "retry policy should exhaust max_attempts against the single failing target")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
