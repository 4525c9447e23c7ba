package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var validSignalNames = map[string]bool{
	"SIGHUP": true, "SIGINT": true, "SIGQUIT": true, "SIGTERM": true,
	"SIGUSR1": true, "SIGUSR2": true, "SIGKILL": true, "SIGABRT": true,
}

// Validate checks every process block and aggregates every violation it
// finds into a single error, rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	if c.Daemon.SocketPath == "" {
		errs = append(errs, errors.New("daemon.socket_path is required"))
	}
	if c.Daemon.AuthGroup == "" {
		errs = append(errs, errors.New("daemon.auth_group is required"))
	}

	if len(c.Processes) == 0 {
		errs = append(errs, errors.New("no processes defined"))
	}

	for name, p := range c.Processes {
		if p.Cmd == "" {
			errs = append(errs, fmt.Errorf("process %s: cmd is required", name))
		} else if !strings.HasPrefix(p.Cmd, "/") {
			errs = append(errs, fmt.Errorf("process %s: cmd must be an absolute path", name))
		}
		if p.WorkingDir != "" && !strings.HasPrefix(p.WorkingDir, "/") {
			errs = append(errs, fmt.Errorf("process %s: workingdir must be an absolute path", name))
		}
		if p.Processes < 1 {
			errs = append(errs, fmt.Errorf("process %s: processes must be >= 1", name))
		}
		if v, err := strconv.ParseUint(p.Umask, 8, 32); err != nil {
			errs = append(errs, fmt.Errorf("process %s: umask %q is not a valid octal value: %w", name, p.Umask, err))
		} else if v > 0o777 {
			errs = append(errs, fmt.Errorf("process %s: umask %q is out of range 0..0777", name, p.Umask))
		}
		switch p.Autorestart {
		case AutorestartNever, AutorestartAlways, AutorestartOnFailure, "":
		default:
			errs = append(errs, fmt.Errorf("process %s: invalid autorestart %q", name, p.Autorestart))
		}
		if p.Autorestart == AutorestartOnFailure && (p.MaxRetries < 0 || p.MaxRetries > 255) {
			errs = append(errs, fmt.Errorf("process %s: max_retries must be 0..=255", name))
		}
		if p.StopTimeS < 1 || p.StopTimeS > 255 {
			errs = append(errs, fmt.Errorf("process %s: stoptime_s must be 1..=255", name))
		}
		if len(p.StopSignals) == 0 {
			errs = append(errs, fmt.Errorf("process %s: stopsignals must be non-empty", name))
		}
		for _, sig := range p.StopSignals {
			if !validSignalNames[sig] {
				errs = append(errs, fmt.Errorf("process %s: unknown stop signal %q", name, sig))
			}
		}
		if p.HealthCheck != nil {
			hc := p.HealthCheck
			switch hc.Mode {
			case HealthCheckUptime:
				if hc.StartTimeS < 0 {
					errs = append(errs, fmt.Errorf("process %s: healthcheck.starttime must be >= 0", name))
				}
			case HealthCheckCommand:
				if hc.Cmd == "" {
					errs = append(errs, fmt.Errorf("process %s: healthcheck.cmd is required for command checks", name))
				}
				if hc.Retries < 0 || hc.Retries > 255 {
					errs = append(errs, fmt.Errorf("process %s: healthcheck.retries must be 0..=255", name))
				}
			default:
				errs = append(errs, fmt.Errorf("process %s: invalid healthcheck.mode %q", name, hc.Mode))
			}
		}
		if p.StartRetries != nil && (*p.StartRetries < 0 || *p.StartRetries > 255) {
			errs = append(errs, fmt.Errorf("process %s: startretries must be 0..=255", name))
		}
	}

	return errors.Join(errs...)
}
