// Package config holds the validated configuration the supervisor core
// consumes. Parsing and field validation live here deliberately outside the
// core: the state machine, reconciler, and supervisor loop never see TOML.
package config

// Config is the complete procd configuration.
type Config struct {
	Daemon    Daemon                    `toml:"daemon"`
	Metrics   Metrics                   `toml:"metrics"`
	Processes map[string]*ProcessConfig `toml:"processes"`
}

// Daemon holds daemon-wide settings: the control socket and the injected
// logger's configuration.
type Daemon struct {
	SocketPath string `toml:"socket_path"`
	AuthGroup  string `toml:"auth_group"`
	LogLevel   string `toml:"log_level"`
	LogFormat  string `toml:"log_format"` // json | text
}

// Metrics configures the optional Prometheus exposition endpoint. Entirely
// ambient: the reconciler and state handlers never read this.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// AutorestartMode selects when a process is respawned after exit.
type AutorestartMode string

const (
	AutorestartNever      AutorestartMode = "never"
	AutorestartAlways     AutorestartMode = "always"
	AutorestartOnFailure  AutorestartMode = "on-failure"
)

// HealthCheckMode selects the kind of health probe used while a process is
// in the HealthCheck state.
type HealthCheckMode string

const (
	HealthCheckUptime  HealthCheckMode = "uptime"
	HealthCheckCommand HealthCheckMode = "command"
)

// HealthCheckConfig mirrors spec.md's healthcheck union. Exactly one of the
// two shapes is meaningful depending on Mode.
type HealthCheckConfig struct {
	Mode HealthCheckMode `toml:"mode"`

	// Uptime mode.
	StartTimeS int `toml:"starttime"`

	// Command mode.
	Cmd      string   `toml:"cmd"`
	Args     []string `toml:"args"`
	TimeoutS int      `toml:"timeout_s"`
	Retries  int      `toml:"retries"`
	BackoffS int      `toml:"backoff_s"`
}

// ProcessConfig is the immutable-per-tick configuration for one configured
// process block. A block with Processes > 1 spawns that many replicas,
// named "{name}_0".."{name}_{N-1}".
type ProcessConfig struct {
	Cmd        string            `toml:"cmd"`
	Args       []string          `toml:"args"`
	WorkingDir string            `toml:"workingdir"`
	Umask      string            `toml:"umask"` // octal string, e.g. "0022"
	Env        map[string]string `toml:"env"`

	Processes int `toml:"processes"` // replica count, default 1

	Autostart   bool            `toml:"autostart"`
	Autorestart AutorestartMode `toml:"autorestart"`
	MaxRetries  int             `toml:"max_retries"` // used when Autorestart == on-failure
	ExitCodes   []int           `toml:"exitcodes"`

	HealthCheck *HealthCheckConfig `toml:"healthcheck"`
	// StartRetries overrides the implicit startup retry budget derived from
	// HealthCheck.Retries. Nil means "derive it" (see effectiveStartRetries
	// in the process package); an explicit 0 means no startup retries.
	StartRetries *int `toml:"startretries"`

	StopSignals []string `toml:"stopsignals"`
	StopTimeS   int      `toml:"stoptime_s"`
	BackoffS    int      `toml:"backoff_s"` // spacing between restarts

	Stdout string `toml:"stdout"`
	Stderr string `toml:"stderr"`
}
