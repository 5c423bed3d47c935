package reverseproxy

import (
	"fmt"
	"net"
	"regexp"
	"time"
)

// MatchSpec is the config-file shape of a Route's predicate set (spec §6
// "reverse_proxy_routes"): plain strings and primitives that Build
// compiles once at startup into the Predicate values Table actually
// evaluates per request.
type MatchSpec struct {
	Path              string   `mapstructure:"path" json:"path"`
	PathMatchTrailing bool     `mapstructure:"path_match_trailing_slash" json:"path_match_trailing_slash"`
	Host              string   `mapstructure:"host" json:"host"`
	Methods           []string `mapstructure:"methods" json:"methods"`

	HeaderName  string `mapstructure:"header_name" json:"header_name"`
	HeaderExact string `mapstructure:"header_exact" json:"header_exact"`
	HeaderRegex string `mapstructure:"header_regex" json:"header_regex"`

	QueryName  string `mapstructure:"query_name" json:"query_name"`
	QueryExact string `mapstructure:"query_exact" json:"query_exact"`
	QueryRegex string `mapstructure:"query_regex" json:"query_regex"`

	CookieName  string `mapstructure:"cookie_name" json:"cookie_name"`
	CookieExact string `mapstructure:"cookie_exact" json:"cookie_exact"`
	CookieRegex string `mapstructure:"cookie_regex" json:"cookie_regex"`

	After  *time.Time `mapstructure:"after" json:"after"`
	Before *time.Time `mapstructure:"before" json:"before"`

	RemoteCIDRs []string `mapstructure:"remote_cidrs" json:"remote_cidrs"`

	WeightGroup  string `mapstructure:"weight_group" json:"weight_group"`
	RouteWeight  int    `mapstructure:"weight" json:"weight"`
}

// RouteSpec is the config-file shape of a Route: a MatchSpec plus the
// same dispatch fields as Route itself (mapstructure/json tags carry
// spec §6's "reverse_proxy_routes" shape; Predicates is compiled, never
// unmarshalled).
type RouteSpec struct {
	ID              string        `mapstructure:"id" json:"id" validate:"required"`
	Match           []MatchSpec   `mapstructure:"match" json:"match" validate:"required,min=1,dive"`
	Targets         []Target      `mapstructure:"targets" json:"targets" validate:"required,min=1,dive"`
	LB              LBPolicy      `mapstructure:"lb_policy" json:"lb_policy"`
	Sticky          *StickyConfig `mapstructure:"sticky" json:"sticky"`
	Retry           *RetryPolicy  `mapstructure:"retry_policy" json:"retry_policy"`
	StripPathPrefix string        `mapstructure:"strip_path_prefix" json:"strip_path_prefix"`
	PreserveHost    bool          `mapstructure:"preserve_host" json:"preserve_host"`
	Priority        int           `mapstructure:"priority" json:"priority"`
	Health          *HealthCheck  `mapstructure:"health_check" json:"health_check"`
	MaxIdlePerHost  int           `mapstructure:"max_idle_per_host" json:"max_idle_per_host"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
}

// Build compiles a RouteSpec into an immutable Route, resolving regexes
// and CIDRs once so Table.Match never compiles anything per request.
func (rs RouteSpec) Build() (Route, error) {
	predicates := make([]Predicate, 0, len(rs.Match))

	for _, m := range rs.Match {
		ps, err := m.compile()
		if err != nil {
			return Route{}, fmt.Errorf("route %q: %w", rs.ID, err)
		}
		predicates = append(predicates, ps...)
	}

	return Route{
		ID:              rs.ID,
		Predicates:      predicates,
		Targets:         rs.Targets,
		LB:              rs.LB,
		Sticky:          rs.Sticky,
		Retry:           rs.Retry,
		StripPathPrefix: rs.StripPathPrefix,
		PreserveHost:    rs.PreserveHost,
		Priority:        rs.Priority,
		Health:          rs.Health,
		MaxIdlePerHost:  rs.MaxIdlePerHost,
		IdleTimeout:     rs.IdleTimeout,
	}, nil
}

func (m MatchSpec) compile() ([]Predicate, error) {
	var out []Predicate

	if m.Path != "" {
		out = append(out, PathPredicate{Pattern: m.Path, MatchTrailingSlash: m.PathMatchTrailing})
	}
	if m.Host != "" {
		out = append(out, HostPredicate{Pattern: m.Host})
	}
	if len(m.Methods) > 0 {
		out = append(out, NewMethodPredicate(m.Methods...))
	}

	if m.HeaderName != "" {
		q, err := newCompiledQuery(m.HeaderName, m.HeaderExact, m.HeaderRegex)
		if err != nil {
			return nil, err
		}
		out = append(out, HeaderPredicate{q})
	}
	if m.QueryName != "" {
		q, err := newCompiledQuery(m.QueryName, m.QueryExact, m.QueryRegex)
		if err != nil {
			return nil, err
		}
		out = append(out, QueryPredicate{q})
	}
	if m.CookieName != "" {
		q, err := newCompiledQuery(m.CookieName, m.CookieExact, m.CookieRegex)
		if err != nil {
			return nil, err
		}
		out = append(out, CookiePredicate{q})
	}

	if m.After != nil || m.Before != nil {
		out = append(out, TimeWindowPredicate{After: m.After, Before: m.Before})
	}

	if len(m.RemoteCIDRs) > 0 {
		nets := make([]*net.IPNet, 0, len(m.RemoteCIDRs))
		for _, c := range m.RemoteCIDRs {
			_, n, err := net.ParseCIDR(c)
			if err != nil {
				return nil, fmt.Errorf("invalid remote_cidrs entry %q: %w", c, err)
			}
			nets = append(nets, n)
		}
		out = append(out, RemoteAddrPredicate{CIDRs: nets})
	}

	if m.WeightGroup != "" {
		out = append(out, WeightPredicate{Group: m.WeightGroup, Weight: m.RouteWeight})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("match entry has no criteria")
	}
	return out, nil
}

func newCompiledQuery(name, exact, regex string) (compiledHeaderQuery, error) {
	q := compiledHeaderQuery{name: name, exact: exact}
	if regex != "" {
		re, err := regexp.Compile(regex)
		if err != nil {
			return q, err
		}
		q.pattern = re
	}
	return q, nil
}

// BuildTable compiles every RouteSpec and freezes the result into a
// Table, the entry point internal/config calls after unmarshalling
// "reverse_proxy_routes".
func BuildTable(specs []RouteSpec) (*Table, error) {
	routes := make([]Route, 0, len(specs))
	for _, s := range specs {
		r, err := s.Build()
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return NewTable(routes), nil
}
