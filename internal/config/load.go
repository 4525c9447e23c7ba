package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath is the environment variable that overrides the default
// config file location.
const EnvConfigPath = "PROCD_CONFIG"

// DefaultConfigPath is used when EnvConfigPath is unset.
const DefaultConfigPath = "/etc/procd/procd.toml"

// Load reads, defaults, and validates the configuration at path. If path is
// empty, EnvConfigPath and then DefaultConfigPath are consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{Processes: make(map[string]*ProcessConfig)}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	return cfg, nil
}

// SetDefaults fills in every optional field with its documented default.
func (c *Config) SetDefaults() {
	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = "/run/procd/procd.sock"
	}
	if c.Daemon.AuthGroup == "" {
		c.Daemon.AuthGroup = "procd"
	}
	if c.Daemon.LogLevel == "" {
		c.Daemon.LogLevel = "info"
	}
	if c.Daemon.LogFormat == "" {
		c.Daemon.LogFormat = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}

	for _, p := range c.Processes {
		if p.Processes == 0 {
			p.Processes = 1
		}
		if p.Umask == "" {
			p.Umask = "0022"
		}
		if p.Autorestart == "" {
			p.Autorestart = AutorestartNever
		}
		if len(p.ExitCodes) == 0 {
			p.ExitCodes = []int{0}
		}
		if len(p.StopSignals) == 0 {
			p.StopSignals = []string{"SIGTERM"}
		}
		if p.StopTimeS == 0 {
			p.StopTimeS = 10
		}
		if p.BackoffS == 0 {
			p.BackoffS = 1
		}
		if p.HealthCheck != nil {
			hc := p.HealthCheck
			if hc.Mode == "" {
				hc.Mode = HealthCheckUptime
			}
			if hc.Mode == HealthCheckCommand {
				if hc.TimeoutS == 0 {
					hc.TimeoutS = 5
				}
				if hc.BackoffS == 0 {
					hc.BackoffS = 1
				}
			}
		}
	}
}
