package reverseproxy

import (
	"hash/fnv"
	"net/http"
	"sort"
)

// Table is the immutable, frozen set of Routes evaluated in priority
// order (lower first, then declaration order). Constructed once at
// startup; never mutated afterward (spec §9: "Route table as immutable
// data").
type Table struct {
	routes []*routeState
}

// routeState pairs an immutable Route with its runtime-mutable, per-route
// atomic counters (round robin cursor, least-connections counts, smooth
// weighted state).
type routeState struct {
	route Route
	lb    *balancerState
}

// NewTable freezes routes into priority order. Declaration order is used
// as the priority tiebreak and is captured before sorting.
func NewTable(routes []Route) *Table {
	states := make([]*routeState, 0, len(routes))
	for i, r := range routes {
		r.seq = uint64(i)
		states = append(states, &routeState{
			route: r,
			lb:    newBalancerState(r),
		})
	}

	sort.SliceStable(states, func(i, j int) bool {
		if states[i].route.Priority != states[j].route.Priority {
			return states[i].route.Priority < states[j].route.Priority
		}
		return states[i].route.seq < states[j].route.seq
	})

	return &Table{routes: states}
}

// Match evaluates routes in frozen priority order and returns the first
// whose predicates all match (logical AND). Deterministic given a
// request and the frozen table, per spec testable property #5. A route
// whose predicates include a Weight predicate does not win outright on
// first match; instead its weighted group is resolved via selectGroup.
func (t *Table) Match(r *http.Request) *routeState {
	for _, rs := range t.routes {
		if !matchAll(rs.route.Predicates, r) {
			continue
		}
		if group := weightGroupOf(rs.route.Predicates); group != "" {
			if picked := t.selectGroup(group, r); picked != nil {
				return picked
			}
		}
		return rs
	}
	return nil
}

func matchAll(predicates []Predicate, r *http.Request) bool {
	for _, p := range predicates {
		if !p.Match(r) {
			return false
		}
	}
	return true
}

// matchAllExceptWeight runs every predicate but the group's own Weight
// marker, since that predicate's only job is group membership.
func matchAllExceptWeight(predicates []Predicate, r *http.Request) bool {
	for _, p := range predicates {
		if _, ok := p.(WeightPredicate); ok {
			continue
		}
		if !p.Match(r) {
			return false
		}
	}
	return true
}

func weightGroupOf(predicates []Predicate) string {
	for _, p := range predicates {
		if wp, ok := p.(WeightPredicate); ok {
			return wp.Group
		}
	}
	return ""
}

func weightInGroup(predicates []Predicate, group string) (int, bool) {
	for _, p := range predicates {
		if wp, ok := p.(WeightPredicate); ok && wp.Group == group {
			if wp.Weight <= 0 {
				return 1, true
			}
			return wp.Weight, true
		}
	}
	return 0, false
}

// selectGroup deterministically picks one member of a weighted route
// group: every route in the table carrying a Weight predicate for group
// whose other predicates match r is a candidate, weighted by its own
// Weight. The winner is chosen by hashing the request's connection id
// (spec §4.4: "selection among a group is deterministic per
// connection-id hash"), so repeated requests on the same connection
// consistently land on the same route.
func (t *Table) selectGroup(group string, r *http.Request) *routeState {
	type candidate struct {
		rs     *routeState
		weight int
	}

	var candidates []candidate
	total := 0
	for _, rs := range t.routes {
		w, ok := weightInGroup(rs.route.Predicates, group)
		if !ok || !matchAllExceptWeight(rs.route.Predicates, r) {
			continue
		}
		candidates = append(candidates, candidate{rs: rs, weight: w})
		total += w
	}
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 || total <= 0 {
		return candidates[0].rs
	}

	pick := int(connectionHash(r) % uint64(total))
	cum := 0
	for _, c := range candidates {
		cum += c.weight
		if pick < cum {
			return c.rs
		}
	}
	return candidates[len(candidates)-1].rs
}

// connectionHash keys weighted-group selection on the request's
// connection id (the X-Request-Id set by the listener before dispatch),
// falling back to the remote address for requests routed outside the
// listener (e.g. in tests).
func connectionHash(r *http.Request) uint64 {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = r.RemoteAddr
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// Routes returns the frozen routes in match order, for health-check
// wiring and introspection.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, rs := range t.routes {
		out = append(out, rs.route)
	}
	return out
}
