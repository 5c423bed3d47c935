// Package worker implements the per-ProxyType resource domain: admission
// control, connection pool ledger, and metrics that keep one proxy role
// from starving another. Grounded on nabbar-golib/httpserver/pool (the
// per-server registry with its own lock and lifecycle) generalized from
// "one HTTP server" to "one resource domain shared by many connections".
package worker

import "time"

// ProxyType identifies which worker domain a connection or route belongs
// to. Equality and ordering are value-based.
type ProxyType uint8

const (
	Forward ProxyType = iota
	Reverse
	Static
	Combined
)

func (t ProxyType) String() string {
	switch t {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case Static:
		return "static"
	case Combined:
		return "combined"
	default:
		return "unknown"
	}
}

// WorkerResourceLimits configures one worker domain. Defaults vary by
// ProxyType: Forward favors many long-lived tunnels, Reverse favors
// higher RPS and memory, Static favors larger file sizes and fewer
// connections, Combined blends all three.
type WorkerResourceLimits struct {
	MaxConnections        int           `mapstructure:"max_connections" json:"max_connections" validate:"required,gt=0"`
	MaxMemoryMB           int           `mapstructure:"max_memory_mb" json:"max_memory_mb" validate:"required,gt=0"`
	MaxRequestsPerSecond  int           `mapstructure:"max_requests_per_second" json:"max_requests_per_second" validate:"required,gt=0"`
	MaxFileSizeMB         int           `mapstructure:"max_file_size_mb" json:"max_file_size_mb" validate:"gt=0"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" json:"connect_timeout" validate:"required,gt=0"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" json:"request_timeout" validate:"required,gt=0"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" validate:"required,gt=0"`
	MaxConnectionLifetime time.Duration `mapstructure:"max_connection_lifetime" json:"max_connection_lifetime" validate:"required,gt=0"`
	MaxCPUPercent         float64       `mapstructure:"max_cpu_percent" json:"max_cpu_percent" validate:"gt=0,lte=100"`
}

// DefaultLimits returns the spec-mandated per-ProxyType defaults.
func DefaultLimits(t ProxyType) WorkerResourceLimits {
	switch t {
	case Forward:
		return WorkerResourceLimits{
			MaxConnections:        4000,
			MaxMemoryMB:           256,
			MaxRequestsPerSecond:  2000,
			MaxFileSizeMB:         0,
			ConnectTimeout:        10 * time.Second,
			RequestTimeout:        60 * time.Second,
			IdleTimeout:           120 * time.Second,
			MaxConnectionLifetime: 30 * time.Minute,
			MaxCPUPercent:         80,
		}
	case Reverse:
		return WorkerResourceLimits{
			MaxConnections:        2000,
			MaxMemoryMB:           512,
			MaxRequestsPerSecond:  4000,
			MaxFileSizeMB:         0,
			ConnectTimeout:        5 * time.Second,
			RequestTimeout:        30 * time.Second,
			IdleTimeout:           60 * time.Second,
			MaxConnectionLifetime: 15 * time.Minute,
			MaxCPUPercent:         90,
		}
	case Static:
		return WorkerResourceLimits{
			MaxConnections:        1000,
			MaxMemoryMB:           384,
			MaxRequestsPerSecond:  3000,
			MaxFileSizeMB:         512,
			ConnectTimeout:        5 * time.Second,
			RequestTimeout:        30 * time.Second,
			IdleTimeout:           60 * time.Second,
			MaxConnectionLifetime: 15 * time.Minute,
			MaxCPUPercent:         70,
		}
	default: // Combined
		return WorkerResourceLimits{
			MaxConnections:        3000,
			MaxMemoryMB:           512,
			MaxRequestsPerSecond:  3000,
			MaxFileSizeMB:         256,
			ConnectTimeout:        8 * time.Second,
			RequestTimeout:        45 * time.Second,
			IdleTimeout:           90 * time.Second,
			MaxConnectionLifetime: 20 * time.Minute,
			MaxCPUPercent:         85,
		}
	}
}

// Health is the coarse health of a worker domain, derived from
// connection utilization.
type Health uint8

const (
	Healthy Health = iota
	Warning
	Critical
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

func healthFromUtilization(u float64) Health {
	switch {
	case u < 0.8:
		return Healthy
	case u < 0.95:
		return Warning
	default:
		return Critical
	}
}
