// Package reverseproxy implements route matching, target selection, load
// balancing, retries and header rewriting for the reverse-proxy engine
// (spec §4.4). No teacher or pack repo implements HTTP reverse proxying;
// this package is written in the teacher's idiom (explicit structs,
// interface-typed predicates, liberal use of the worker/bferr/logx
// packages already grounded on nabbar-golib) over net/http, the way
// nabbar-golib/httpserver builds directly on net/http rather than a web
// framework.
package reverseproxy

import (
	"net/http"
	"regexp"
	"time"
)

// Target is one upstream endpoint a Route can forward to.
type Target struct {
	ID      string `mapstructure:"id" json:"id" validate:"required"`
	URL     string `mapstructure:"url" json:"url" validate:"required,url"`
	Weight  int    `mapstructure:"weight" json:"weight" validate:"gte=0"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

func (t Target) effectiveWeight() int {
	if t.Weight <= 0 {
		return 1
	}
	return t.Weight
}

// LBPolicy selects among the enabled targets of a Route.
type LBPolicy string

const (
	LBRoundRobin         LBPolicy = "round_robin"
	LBWeightedRoundRobin LBPolicy = "weighted_round_robin"
	LBLeastConnections   LBPolicy = "least_connections"
	LBRandom             LBPolicy = "random"
)

// StickyKind selects how a client identity is resolved to a target id.
type StickyKind string

const (
	StickyCookie   StickyKind = "cookie"
	StickyHeader   StickyKind = "header"
	StickySourceIP StickyKind = "source_ip"
)

type StickyConfig struct {
	Kind StickyKind `mapstructure:"kind" json:"kind" validate:"required,oneof=cookie header source_ip"`
	Name string     `mapstructure:"name" json:"name"` // cookie or header name
}

// RetryPolicy governs retry across targets, per spec §4.4.
type RetryPolicy struct {
	MaxAttempts          int      `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=1"`
	RetryOnConnectError  bool     `mapstructure:"retry_on_connect_error" json:"retry_on_connect_error"`
	RetryOnStatuses      []int    `mapstructure:"retry_on_statuses" json:"retry_on_statuses"`
	AllowedMethods       []string `mapstructure:"allowed_methods" json:"allowed_methods"`
	BufferBodyMaxBytes   int64    `mapstructure:"buffer_body_max_bytes" json:"buffer_body_max_bytes"`
}

func (r RetryPolicy) allowedMethods() []string {
	if len(r.AllowedMethods) > 0 {
		return r.AllowedMethods
	}
	return []string{http.MethodGet, http.MethodHead, http.MethodOptions}
}

func (r RetryPolicy) methodAllowed(method string) bool {
	for _, m := range r.allowedMethods() {
		if m == method {
			return true
		}
	}
	return false
}

func (r RetryPolicy) statusRetryable(status int) bool {
	for _, s := range r.RetryOnStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// HealthCheck configures an optional background prober for a Route's
// targets.
type HealthCheck struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	IntervalSecs int           `mapstructure:"interval_secs" json:"interval_secs" validate:"gte=1"`
	TimeoutSecs  int           `mapstructure:"timeout_secs" json:"timeout_secs" validate:"gte=1"`
	Endpoint     string        `mapstructure:"endpoint" json:"endpoint"`
	interval     time.Duration `mapstructure:"-" json:"-"`
}

func (h HealthCheck) Interval() time.Duration {
	if h.IntervalSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(h.IntervalSecs) * time.Second
}

func (h HealthCheck) Timeout() time.Duration {
	if h.TimeoutSecs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(h.TimeoutSecs) * time.Second
}

// Route is an immutable, priority-ordered predicate-gated mapping from
// request shape to one or more Targets.
type Route struct {
	ID               string        `mapstructure:"id" json:"id" validate:"required"`
	Predicates       []Predicate   `mapstructure:"-" json:"-"`
	Targets          []Target      `mapstructure:"targets" json:"targets" validate:"required,min=1,dive"`
	LB               LBPolicy      `mapstructure:"lb_policy" json:"lb_policy"`
	Sticky           *StickyConfig `mapstructure:"sticky" json:"sticky"`
	Retry            *RetryPolicy  `mapstructure:"retry_policy" json:"retry_policy"`
	StripPathPrefix  string        `mapstructure:"strip_path_prefix" json:"strip_path_prefix"`
	PreserveHost     bool          `mapstructure:"preserve_host" json:"preserve_host"`
	Priority         int           `mapstructure:"priority" json:"priority"`
	Health           *HealthCheck  `mapstructure:"health_check" json:"health_check"`
	MaxIdlePerHost   int           `mapstructure:"max_idle_per_host" json:"max_idle_per_host"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`

	seq uint64 // declaration order, used as a priority tiebreak
}

func (r Route) lbPolicy() LBPolicy {
	if r.LB == "" {
		return LBRoundRobin
	}
	return r.LB
}

// enabledTargets returns the Targets with Enabled == true, preserving
// declaration order.
func (r Route) enabledTargets() []Target {
	out := make([]Target, 0, len(r.Targets))
	for _, t := range r.Targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

func (r Route) targetByID(id string) (Target, bool) {
	for _, t := range r.Targets {
		if t.ID == id {
			return t, true
		}
	}
	return Target{}, false
}

// compiledHeaderQuery is a Header/Query/Cookie predicate's optional value
// matcher, built once at startup.
type compiledHeaderQuery struct {
	name     string
	exact    string
	pattern  *regexp.Regexp
}
