package reverseproxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/nabbar/bifrost/internal/logx"
)

// HealthChecker periodically probes every target of every health-checked
// Route in a Table, excluding failing targets from load balancing until
// they recover (spec §4.4).
type HealthChecker struct {
	table  *Table
	log    *logx.Logger
	client *http.Client
}

func NewHealthChecker(table *Table, log *logx.Logger) *HealthChecker {
	return &HealthChecker{table: table, log: log, client: &http.Client{}}
}

// Run blocks, probing each health-checked route's targets on its own
// interval, until ctx is canceled. Intended to run as one background task
// per Table, started by the listener loop alongside the accept loop.
func (h *HealthChecker) Run(ctx context.Context) {
	tickers := make(map[string]*time.Ticker)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	for _, rs := range h.table.routes {
		if rs.route.Health == nil || !rs.route.Health.Enabled {
			continue
		}
		t := time.NewTicker(rs.route.Health.Interval())
		tickers[rs.route.ID] = t
		go h.probeLoop(ctx, rs, t)
	}

	<-ctx.Done()
}

func (h *HealthChecker) probeLoop(ctx context.Context, rs *routeState, t *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.probeOnce(ctx, rs)
		}
	}
}

func (h *HealthChecker) probeOnce(ctx context.Context, rs *routeState) {
	hc := *rs.route.Health
	for _, target := range rs.route.Targets {
		healthy := h.probeTarget(ctx, hc, target)
		rs.lb.markHealth(target.ID, healthy)
		if !healthy && h.log != nil {
			h.log.With(logx.Fields{"route_id": rs.route.ID, "target_id": target.ID}).Warn("target failed health check")
		}
	}
}

func (h *HealthChecker) probeTarget(ctx context.Context, hc HealthCheck, target Target) bool {
	ctx, cancel := context.WithTimeout(ctx, hc.Timeout())
	defer cancel()

	if hc.Endpoint == "" {
		return h.tcpProbe(ctx, target)
	}
	return h.httpProbe(ctx, target, hc.Endpoint)
}

func (h *HealthChecker) tcpProbe(ctx context.Context, target Target) bool {
	u, err := parseURLHostPort(target.URL)
	if err != nil {
		return false
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (h *HealthChecker) httpProbe(ctx context.Context, target Target, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL+endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
