package reverseproxy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableMatchesInPriorityOrder(t *testing.T) {
	specs := []RouteSpec{
		{
			ID:       "fallback",
			Match:    []MatchSpec{{Path: "/**"}},
			Targets:  []Target{{ID: "t1", URL: "http://fallback.internal", Enabled: true}},
			Priority: 10,
		},
		{
			ID:       "api",
			Match:    []MatchSpec{{Path: "/api/**"}},
			Targets:  []Target{{ID: "t1", URL: "http://api.internal", Enabled: true}},
			Priority: 1,
		},
	}

	table, err := BuildTable(specs)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rs := table.Match(req)
	require.NotNil(t, rs)
	assert.Equal(t, "api", rs.route.ID)

	req2 := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rs2 := table.Match(req2)
	require.NotNil(t, rs2)
	assert.Equal(t, "fallback", rs2.route.ID)
}

func TestTableNoMatchReturnsNil(t *testing.T) {
	specs := []RouteSpec{
		{ID: "api", Match: []MatchSpec{{Path: "/api/**"}}, Targets: []Target{{ID: "t1", URL: "http://api.internal", Enabled: true}}},
	}
	table, err := BuildTable(specs)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	assert.Nil(t, table.Match(req))
}

func TestSelectTargetRoundRobinCycles(t *testing.T) {
	specs := []RouteSpec{{
		ID:    "rr",
		Match: []MatchSpec{{Path: "/**"}},
		Targets: []Target{
			{ID: "a", URL: "http://a.internal", Enabled: true},
			{ID: "b", URL: "http://b.internal", Enabled: true},
		},
		LB: LBRoundRobin,
	}}
	table, err := BuildTable(specs)
	require.NoError(t, err)

	rs := table.routes[0]
	first, ok := rs.selectTarget("")
	require.True(t, ok)
	second, ok := rs.selectTarget("")
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID, "successive round-robin picks must alternate across two targets")
}

func TestSelectTargetSkipsUnhealthy(t *testing.T) {
	specs := []RouteSpec{{
		ID:    "health",
		Match: []MatchSpec{{Path: "/**"}},
		Targets: []Target{
			{ID: "a", URL: "http://a.internal", Enabled: true},
			{ID: "b", URL: "http://b.internal", Enabled: true},
		},
	}}
	table, err := BuildTable(specs)
	require.NoError(t, err)

	rs := table.routes[0]
	rs.lb.markHealth("a", false)

	for i := 0; i < 5; i++ {
		target, ok := rs.selectTarget("")
		require.True(t, ok)
		assert.Equal(t, "b", target.ID)
	}
}

func TestSelectTargetExcludesFailedAttempt(t *testing.T) {
	specs := []RouteSpec{{
		ID:    "retry",
		Match: []MatchSpec{{Path: "/**"}},
		Targets: []Target{
			{ID: "a", URL: "http://a.internal", Enabled: true},
			{ID: "b", URL: "http://b.internal", Enabled: true},
		},
		LB: LBRoundRobin,
	}}
	table, err := BuildTable(specs)
	require.NoError(t, err)

	rs := table.routes[0]
	for i := 0; i < 10; i++ {
		target, ok := rs.selectTarget("a")
		require.True(t, ok)
		assert.Equal(t, "b", target.ID, "excluding the failed target must always yield the remaining one")
	}
}

func TestTableWeightedGroupSelectsDeterministicallyByConnectionID(t *testing.T) {
	specs := []RouteSpec{
		{
			ID:      "stable",
			Match:   []MatchSpec{{Path: "/checkout", WeightGroup: "checkout", RouteWeight: 90}},
			Targets: []Target{{ID: "t1", URL: "http://stable.internal", Enabled: true}},
		},
		{
			ID:      "canary",
			Match:   []MatchSpec{{Path: "/checkout", WeightGroup: "checkout", RouteWeight: 10}},
			Targets: []Target{{ID: "t1", URL: "http://canary.internal", Enabled: true}},
		},
	}
	table, err := BuildTable(specs)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.Header.Set("X-Request-Id", "conn-alpha")
	first := table.Match(req)
	require.NotNil(t, first)

	for i := 0; i < 5; i++ {
		again := httptest.NewRequest(http.MethodGet, "/checkout", nil)
		again.Header.Set("X-Request-Id", "conn-alpha")
		rs := table.Match(again)
		require.NotNil(t, rs)
		assert.Equal(t, first.route.ID, rs.route.ID, "the same connection id must always resolve to the same group member")
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
		req.Header.Set("X-Request-Id", fmt.Sprintf("conn-%d", i))
		rs := table.Match(req)
		require.NotNil(t, rs)
		seen[rs.route.ID] = true
	}
	assert.Len(t, seen, 2, "enough distinct connection ids must eventually exercise both group members")
}

func TestBuildTableRejectsEmptyMatchCriteria(t *testing.T) {
	specs := []RouteSpec{{
		ID:      "broken",
		Match:   []MatchSpec{{}},
		Targets: []Target{{ID: "a", URL: "http://a.internal", Enabled: true}},
	}}
	_, err := BuildTable(specs)
	assert.Error(t, err)
}
