package process

import (
	"time"

	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/state"
)

// defaultStartRetries is used for Uptime-mode or healthcheck-less processes
// when ProcessConfig.StartRetries is unset: spec.md §3 calls startretries
// "implicit; derived from healthcheck retries for startup" but only defines
// the derivation for Command-mode checks, leaving this case to the
// implementation (recorded in DESIGN.md).
const defaultStartRetries = 3

func effectiveStartRetries(cfg *config.ProcessConfig) int {
	if cfg.StartRetries != nil {
		return *cfg.StartRetries
	}
	if cfg.HealthCheck != nil && cfg.HealthCheck.Mode == config.HealthCheckCommand {
		return cfg.HealthCheck.Retries
	}
	return defaultStartRetries
}

// Handle runs the pure state handler for r's current state and returns the
// next state, or nil to stay. It may spawn/signal the child, read its exit
// status, and mutate failure counters. It never blocks, apart from the
// bounded wait for a SIGKILLed child's exit in the Stopping handler.
func (r *Record) Handle(now time.Time) *state.State {
	switch r.State.Kind {
	case state.Idle:
		return nil
	case state.Ready:
		return r.handleReady(now)
	case state.HealthCheck:
		return r.handleHealthCheck(now)
	case state.Healthy:
		return r.handleHealthy()
	case state.Failed:
		return r.handleFailed(now)
	case state.WaitingForRetry:
		return r.handleWaitingForRetry(now)
	case state.Completed:
		return r.handleCompleted(now)
	case state.Stopping:
		return r.handleStopping(now)
	case state.Stopped:
		return nil
	default:
		return nil
	}
}

func (r *Record) handleReady(now time.Time) *state.State {
	if err := r.spawn(); err != nil {
		r.StartupFailures = satIncr(r.StartupFailures)
		next := state.NewFailed(state.NewSince(state.HealthCheck, now))
		return &next
	}
	next := state.NewSince(state.HealthCheck, now)
	return &next
}

func (r *Record) handleHealthCheck(now time.Time) *state.State {
	since := r.State.Since

	if res := r.checkExited(); res != nil {
		r.stopHealthCheck()
		if exitCodeAccepted(r.Config, res) {
			r.reap()
			next := state.New(state.Completed)
			return &next
		}
		r.reap()
		next := state.NewFailed(state.NewSince(state.HealthCheck, since))
		return &next
	}

	hc := r.Config.HealthCheck
	if hc == nil {
		// A nil healthcheck behaves as Uptime{starttime: 0}: healthy as soon
		// as the process is observed alive. Documented in DESIGN.md's Open
		// Questions as a deliberate decision, not an omission.
		next := state.New(state.Healthy)
		return &next
	}

	switch hc.Mode {
	case config.HealthCheckUptime:
		if now.Sub(since) >= time.Duration(hc.StartTimeS)*time.Second {
			next := state.New(state.Healthy)
			return &next
		}
		return nil
	case config.HealthCheckCommand:
		healthy, exhausted := r.runCommandHealthCheck(hc, now)
		if healthy {
			r.stopHealthCheck()
			next := state.New(state.Healthy)
			return &next
		}
		if exhausted {
			r.stopHealthCheck()
			next := state.NewFailed(state.NewSince(state.HealthCheck, since))
			return &next
		}
		return nil
	default:
		return nil
	}
}

func (r *Record) handleHealthy() *state.State {
	res := r.checkExited()
	if res == nil {
		return nil
	}
	if exitCodeAccepted(r.Config, res) {
		r.reap()
		next := state.New(state.Completed)
		return &next
	}
	r.reap()
	next := state.NewFailed(state.New(state.Healthy))
	return &next
}

func (r *Record) handleFailed(now time.Time) *state.State {
	prev := r.State.From
	if prev == nil {
		next := state.New(state.Stopped)
		return &next
	}

	switch prev.Kind {
	case state.Healthy:
		switch r.Config.Autorestart {
		case config.AutorestartAlways:
			return r.respawnTo(now)
		case config.AutorestartOnFailure:
			if r.RuntimeFailures >= r.Config.MaxRetries {
				next := state.New(state.Stopped)
				return &next
			}
			r.RuntimeFailures = satIncr(r.RuntimeFailures)
			next := state.NewWaitingForRetry(now.Add(time.Duration(r.Config.BackoffS) * time.Second))
			return &next
		default: // never
			next := state.New(state.Stopped)
			return &next
		}
	case state.HealthCheck:
		if r.StartupFailures >= effectiveStartRetries(r.Config) {
			next := state.New(state.Stopped)
			return &next
		}
		r.StartupFailures = satIncr(r.StartupFailures)
		next := state.NewWaitingForRetry(now.Add(time.Duration(r.Config.BackoffS) * time.Second))
		return &next
	default:
		next := state.New(state.Stopped)
		return &next
	}
}

func (r *Record) handleWaitingForRetry(now time.Time) *state.State {
	if now.Before(r.State.RetryAt) {
		return nil
	}
	return r.respawnTo(now)
}

func (r *Record) handleCompleted(now time.Time) *state.State {
	if r.Config.Autorestart == config.AutorestartAlways {
		return r.respawnTo(now)
	}
	return nil
}

func (r *Record) handleStopping(now time.Time) *state.State {
	since := r.State.Since

	if r.checkExited() != nil {
		r.stopHealthCheck()
		r.reap()
		next := state.New(state.Stopped)
		return &next
	}

	if now.Sub(since) >= time.Duration(r.Config.StopTimeS)*time.Second {
		r.signal(parseSignal("SIGKILL"))
		if r.exitCh != nil {
			// SIGKILL cannot be caught or ignored; the goroutine started in
			// spawn() is about to deliver the exit, so a brief synchronous
			// wait here is bounded, matching spec's "synchronously reap".
			<-r.exitCh
		}
		r.stopHealthCheck()
		r.reap()
		next := state.New(state.Stopped)
		return &next
	}

	if r.stopCycleSince != since {
		r.stopCycleSince = since
		r.stopSignalsSent = 0
	}
	idx := r.stopSignalsSent
	if idx >= len(r.Config.StopSignals) {
		idx = len(r.Config.StopSignals) - 1
	}
	r.signal(parseSignal(r.Config.StopSignals[idx]))
	r.stopSignalsSent++
	return nil
}

// respawnTo spawns the child and lands in HealthCheck(now) on success, or
// Failed(HealthCheck(now)) on failure — shared by every handler that
// restarts a process outside of the initial Ready transition.
func (r *Record) respawnTo(now time.Time) *state.State {
	if err := r.spawn(); err != nil {
		next := state.NewFailed(state.NewSince(state.HealthCheck, now))
		return &next
	}
	next := state.NewSince(state.HealthCheck, now)
	return &next
}

func satIncr(v int) int {
	if v >= 255 {
		return 255
	}
	return v + 1
}
