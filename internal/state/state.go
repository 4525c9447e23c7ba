// Package state defines ProcessState as a tagged variant and the rendering
// rules a client sees over the control socket. It carries no behavior beyond
// construction and display: transitions live in the process package.
package state

import (
	"fmt"
	"time"
)

// Kind tags the active arm of a State.
type Kind int

const (
	Idle Kind = iota
	Ready
	Starting
	HealthCheck
	Healthy
	Failed
	WaitingForRetry
	Completed
	Stopping
	Stopped
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Starting:
		return "starting"
	case HealthCheck:
		return "healthcheck"
	case Healthy:
		return "healthy"
	case Failed:
		return "failed"
	case WaitingForRetry:
		return "waiting_for_retry"
	case Completed:
		return "completed"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is ProcessState encoded as a tag plus the payload fields only some
// tags use. Since holds the instant entered for Starting/HealthCheck/Stopping.
// RetryAt holds the wake instant for WaitingForRetry. From holds the full
// prior state for Failed, and its own Kind must be HealthCheck or Healthy —
// callers that construct a Failed state are responsible for that invariant.
type State struct {
	Kind    Kind
	Since   time.Time
	RetryAt time.Time
	From    *State
}

func New(k Kind) State { return State{Kind: k} }

func NewSince(k Kind, since time.Time) State { return State{Kind: k, Since: since} }

func NewWaitingForRetry(retryAt time.Time) State {
	return State{Kind: WaitingForRetry, RetryAt: retryAt}
}

// NewFailed builds a Failed state carrying the state it failed from. prev
// must be HealthCheck or Healthy; this is asserted, not silently corrected,
// since a violation means a handler bug.
func NewFailed(prev State) State {
	if prev.Kind != HealthCheck && prev.Kind != Healthy {
		panic(fmt.Sprintf("state: Failed may only carry HealthCheck or Healthy, got %s", prev.Kind))
	}
	return State{Kind: Failed, From: &prev}
}

// IsRunningLike reports whether pid/child invariants require a live process:
// Starting, HealthCheck, Healthy, and Stopping all do.
func (s State) IsRunningLike() bool {
	switch s.Kind {
	case Starting, HealthCheck, Healthy, Stopping:
		return true
	default:
		return false
	}
}

// Render produces the human-readable StateRendering sent to RPC clients.
func (s State) Render(now time.Time) string {
	switch s.Kind {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Healthy:
		return "healthy"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Starting:
		return fmt.Sprintf("starting since %d seconds", secondsSince(now, s.Since))
	case HealthCheck:
		return fmt.Sprintf("healthcheck since %d seconds", secondsSince(now, s.Since))
	case Stopping:
		return fmt.Sprintf("stopping since %d seconds", secondsSince(now, s.Since))
	case WaitingForRetry:
		left := int(s.RetryAt.Sub(now).Round(time.Second) / time.Second)
		if left < 0 {
			left = 0
		}
		return fmt.Sprintf("waiting for retry - %d seconds left", left)
	case Failed:
		inner := "unknown"
		if s.From != nil {
			inner = s.From.Render(now)
		}
		return fmt.Sprintf("failed while in state: %s", inner)
	default:
		return "unknown"
	}
}

func secondsSince(now, since time.Time) int64 {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}
