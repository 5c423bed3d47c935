// Package config implements the JSON configuration schema of spec §6,
// loaded with viper and validated with go-playground/validator/v10, the
// way nabbar-golib/httpserver's ServerConfig and
// nabbar-golib/config/components/log's Config are loaded and validated.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/nabbar/bifrost/internal/ratelimit"
	"github.com/nabbar/bifrost/internal/reverseproxy"
	"github.com/nabbar/bifrost/internal/staticfiles"
)

// Mode selects the listener's role (spec §6 "mode").
type Mode string

const (
	ModeForward  Mode = "forward"
	ModeReverse  Mode = "reverse"
	ModeCombined Mode = "combined"
)

// RelayProxyConfig is one chained upstream proxy entry (spec §6
// "relay_proxies").
type RelayProxyConfig struct {
	Domain   string `mapstructure:"domain" json:"domain" validate:"required"`
	Address  string `mapstructure:"address" json:"address" validate:"required,hostname_port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
}

// LoggingConfig carries the logging level and an output destination;
// backend wiring itself is external per spec §1. Only Level reaches
// internal/logx.New: the logger writes to stdout whatever Output and Path
// say.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Output string `mapstructure:"output" json:"output" validate:"omitempty,oneof=stdout file syslog"`
	Path   string `mapstructure:"path" json:"path"`
}

// MonitoringConfig enables the supplemented /metrics and /healthz surface
// (original_source/src/monitoring.rs).
type MonitoringConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" json:"listen" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

// RateLimitingConfig mirrors ratelimit.Config with the secs-suffixed
// naming the rest of this schema uses, plus the whitelist nabbar-golib/
// static's RateLimitConfig carries (WhitelistIPs, per ratelimit_test.go).
type RateLimitingConfig struct {
	Enabled           bool     `mapstructure:"enabled" json:"enabled"`
	RequestsPerWindow int      `mapstructure:"requests_per_window" json:"requests_per_window" validate:"required_if=Enabled true,omitempty,gt=0"`
	WindowSecs        int      `mapstructure:"window_secs" json:"window_secs" validate:"required_if=Enabled true,omitempty,gt=0"`
	WhitelistIPs      []string `mapstructure:"whitelist_ips" json:"whitelist_ips"`
}

func (r RateLimitingConfig) toRatelimit() ratelimit.Config {
	return ratelimit.Config{
		Enabled:           r.Enabled,
		RequestsPerWindow: r.RequestsPerWindow,
		Window:            time.Duration(r.WindowSecs) * time.Second,
		WhitelistIPs:      r.WhitelistIPs,
	}
}

// Config is the full top-level document of spec §6's table.
type Config struct {
	Mode Mode `mapstructure:"mode" json:"mode" validate:"required,oneof=forward reverse combined"`

	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" validate:"required,hostname_port"`

	ReverseProxyTarget string                    `mapstructure:"reverse_proxy_target" json:"reverse_proxy_target" validate:"omitempty,url"`
	ReverseProxyRoutes []reverseproxy.RouteSpec `mapstructure:"reverse_proxy_routes" json:"reverse_proxy_routes" validate:"dive"`

	MaxConnections             int `mapstructure:"max_connections" json:"max_connections" validate:"required,gt=0"`
	ConnectTimeoutSecs         int `mapstructure:"connect_timeout_secs" json:"connect_timeout_secs" validate:"required,gt=0"`
	IdleTimeoutSecs            int `mapstructure:"idle_timeout_secs" json:"idle_timeout_secs" validate:"required,gt=0"`
	MaxConnectionLifetimeSecs  int `mapstructure:"max_connection_lifetime_secs" json:"max_connection_lifetime_secs" validate:"required,gt=0"`
	WorkerThreads              int `mapstructure:"worker_threads" json:"worker_threads" validate:"gte=0"`

	StaticFiles staticfiles.StaticConfig `mapstructure:"static_files" json:"static_files"`

	PrivateKey  string `mapstructure:"private_key" json:"private_key" validate:"required_with=Certificate,omitempty,file"`
	Certificate string `mapstructure:"certificate" json:"certificate" validate:"required_with=PrivateKey,omitempty,file"`

	ConnectionPoolEnabled bool `mapstructure:"connection_pool_enabled" json:"connection_pool_enabled"`
	MaxHeaderSize         int  `mapstructure:"max_header_size" json:"max_header_size" validate:"gte=0"`

	RelayProxies []RelayProxyConfig `mapstructure:"relay_proxies" json:"relay_proxies" validate:"dive"`

	ProxyUsername string `mapstructure:"proxy_username" json:"proxy_username"`
	ProxyPassword string `mapstructure:"proxy_password" json:"proxy_password"`

	Logging     LoggingConfig       `mapstructure:"logging" json:"logging"`
	Monitoring  MonitoringConfig    `mapstructure:"monitoring" json:"monitoring"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting" json:"rate_limiting"`
}

// TLSEnabled reports whether both cert material options are set (spec §6:
// "enable TLS when both set").
func (c Config) TLSEnabled() bool {
	return c.PrivateKey != "" && c.Certificate != ""
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

func (c Config) MaxConnectionLifetime() time.Duration {
	return time.Duration(c.MaxConnectionLifetimeSecs) * time.Second
}

func (c Config) RateLimit() ratelimit.Config {
	return c.RateLimiting.toRatelimit()
}

// BuildRouteTable compiles ReverseProxyRoutes, falling back to a single
// catch-all route to ReverseProxyTarget when no routes are configured
// (spec §6: "single-target reverse mode").
func (c Config) BuildRouteTable() (*reverseproxy.Table, error) {
	specs := c.ReverseProxyRoutes
	if len(specs) == 0 && c.ReverseProxyTarget != "" {
		specs = []reverseproxy.RouteSpec{{
			ID:      "default",
			Match:   []reverseproxy.MatchSpec{{Path: "/**"}},
			Targets: []reverseproxy.Target{{ID: "default", URL: c.ReverseProxyTarget, Enabled: true, Weight: 1}},
		}}
	}
	return reverseproxy.BuildTable(specs)
}

// BuildStaticTable resolves the static_files mounts, when configured.
func (c Config) BuildStaticTable() *staticfiles.Table {
	return staticfiles.NewTable(c.StaticFiles)
}

// LoadFile reads and validates a JSON config document at path, the way
// nabbar-golib's components load their block with viper.UnmarshalKey
// then validator.New().Struct.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config file: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg, collecting every
// violated constraint into one error rather than stopping at the first.
func Validate(cfg Config) error {
	val := validator.New()
	err := val.Struct(cfg)
	if err == nil {
		return nil
	}

	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("invalid config value: %w", err)
	}

	var msg string
	for _, fe := range err.(validator.ValidationErrors) {
		msg += fmt.Sprintf("field %q fails constraint %q; ", fe.Namespace(), fe.ActualTag())
	}
	return fmt.Errorf("config validation failed: %s", msg)
}
