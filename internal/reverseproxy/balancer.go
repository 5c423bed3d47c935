package reverseproxy

import (
	"hash/fnv"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// balancerState holds the per-route mutable counters load balancing and
// health checking need: a RoundRobin cursor, smooth-weighted-round-robin
// current weights, least-connections active counts, and per-target
// health flags. Shared across all tasks dispatching through one Route.
type balancerState struct {
	mu sync.Mutex

	rrCounter uint64 // atomic sequence, global per Route per spec §5

	swrrCurrent map[string]int // target id -> current weight

	activeConns map[string]*int64 // target id -> active connection count

	unhealthy map[string]bool
}

func newBalancerState(r Route) *balancerState {
	b := &balancerState{
		swrrCurrent: make(map[string]int),
		activeConns: make(map[string]*int64),
		unhealthy:   make(map[string]bool),
	}
	for _, t := range r.Targets {
		b.swrrCurrent[t.ID] = 0
		n := int64(0)
		b.activeConns[t.ID] = &n
	}
	return b
}

func (b *balancerState) markHealth(id string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unhealthy[id] = !healthy
}

func (b *balancerState) isHealthy(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.unhealthy[id]
}

func (b *balancerState) enabledHealthy(r Route) []Target {
	out := make([]Target, 0, len(r.Targets))
	for _, t := range r.enabledTargets() {
		if b.isHealthy(t.ID) {
			out = append(out, t)
		}
	}
	return out
}

func (b *balancerState) incActive(id string) {
	b.mu.Lock()
	c, ok := b.activeConns[id]
	b.mu.Unlock()
	if ok {
		atomic.AddInt64(c, 1)
	}
}

func (b *balancerState) decActive(id string) {
	b.mu.Lock()
	c, ok := b.activeConns[id]
	b.mu.Unlock()
	if ok {
		atomic.AddInt64(c, -1)
	}
}

// selectTarget implements the LB policy over the route's enabled, healthy
// targets minus excludeID (used by retry to skip the just-failed target).
// When excludeID is the only candidate it is not excluded.
func (rs *routeState) selectTarget(excludeID string) (Target, bool) {
	candidates := rs.lb.enabledHealthy(rs.route)
	if excludeID != "" && len(candidates) > 1 {
		filtered := candidates[:0:0]
		for _, t := range candidates {
			if t.ID != excludeID {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}
	if len(candidates) == 0 {
		return Target{}, false
	}

	switch rs.route.lbPolicy() {
	case LBWeightedRoundRobin:
		return rs.lb.smoothWeighted(candidates), true
	case LBLeastConnections:
		return rs.lb.leastConnections(candidates), true
	case LBRandom:
		return candidates[rand.Intn(len(candidates))], true
	default: // RoundRobin
		idx := atomic.AddUint64(&rs.lb.rrCounter, 1) - 1
		return candidates[int(idx%uint64(len(candidates)))], true
	}
}

func (b *balancerState) smoothWeighted(candidates []Target) Target {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	var best *Target
	bestWeight := 0

	for i := range candidates {
		t := candidates[i]
		w := t.effectiveWeight()
		total += w
		b.swrrCurrent[t.ID] += w
		if best == nil || b.swrrCurrent[t.ID] > bestWeight {
			best = &candidates[i]
			bestWeight = b.swrrCurrent[t.ID]
		}
	}

	if best == nil {
		return candidates[0]
	}

	b.swrrCurrent[best.ID] -= total
	return *best
}

func (b *balancerState) leastConnections(candidates []Target) Target {
	b.mu.Lock()
	defer b.mu.Unlock()

	best := candidates[0]
	bestN := b.countLocked(best.ID)
	for _, t := range candidates[1:] {
		n := b.countLocked(t.ID)
		if n < bestN {
			best, bestN = t, n
		}
	}
	return best
}

func (b *balancerState) countLocked(id string) int64 {
	if c, ok := b.activeConns[id]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

// resolveSticky resolves a sticky key from the request to a target id,
// falling back to the LB policy if the target is absent or disabled.
func (rs *routeState) resolveSticky(r *http.Request) (Target, bool) {
	s := rs.route.Sticky
	if s == nil {
		return rs.selectTarget("")
	}

	var key string
	switch s.Kind {
	case StickyCookie:
		if c, err := r.Cookie(s.Name); err == nil {
			key = c.Value
		}
	case StickyHeader:
		key = r.Header.Get(s.Name)
	case StickySourceIP:
		key = clientIP(r)
	}

	if key == "" {
		return rs.selectTarget("")
	}

	if s.Kind == StickySourceIP {
		candidates := rs.lb.enabledHealthy(rs.route)
		if len(candidates) == 0 {
			return Target{}, false
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		idx := int(h.Sum32()) % len(candidates)
		if idx < 0 {
			idx += len(candidates)
		}
		return candidates[idx], true
	}

	if t, ok := rs.route.targetByID(key); ok && t.Enabled && rs.lb.isHealthy(t.ID) {
		return t, true
	}
	return rs.selectTarget("")
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
