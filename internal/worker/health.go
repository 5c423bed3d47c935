package worker

import (
	"encoding/json"
	"net/http"

	"github.com/nabbar/bifrost/internal/metrics"
)

// Registry is the set of Worker domains a process runs, keyed by
// ProxyType, used only to build the /healthz JSON surface
// (original_source/src/monitoring.rs) that cmd/bifrost/run.go mounts on
// the optional admin listener.
type Registry struct {
	domains map[ProxyType]*Worker
}

func NewRegistry() *Registry {
	return &Registry{domains: make(map[ProxyType]*Worker)}
}

func (r *Registry) Register(w *Worker) {
	r.domains[w.Type] = w
}

type domainHealth struct {
	Domain            string           `json:"domain"`
	Health            string           `json:"health"`
	ActiveConnections int64            `json:"active_connections"`
	MaxConnections    int              `json:"max_connections"`
	PoolActive        int64            `json:"pool_active_connections"`
	Metrics           metrics.Snapshot `json:"metrics"`
}

// HealthHandler renders a JSON health report across every registered
// domain: overall 200 unless any domain is Critical, in which case 503.
func (r *Registry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		report := make([]domainHealth, 0, len(r.domains))
		worst := Healthy

		for t, wk := range r.domains {
			h := wk.Health()
			if h > worst {
				worst = h
			}
			report = append(report, domainHealth{
				Domain:            t.String(),
				Health:            h.String(),
				ActiveConnections: wk.ActiveConnections(),
				MaxConnections:    wk.Limits.MaxConnections,
				PoolActive:        wk.Pool.Active(),
				Metrics:           wk.Metrics.Snapshot(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if worst == Critical {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
