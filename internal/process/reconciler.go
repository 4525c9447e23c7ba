package process

import (
	"fmt"
	"time"

	"github.com/gophpeek/procd/internal/state"
)

// Project implements spec.md §4.2's reconciler table: given the head intent
// of a process's desired-state queue and its current observed state, it
// returns the next state to apply (nil means stay) and whether the intent
// was fully handled and should be popped from the queue.
//
// Only Idle, Stopped, Ready, and Healthy are legal intents — the only ones
// an operator (or reload/halt) can express. Anything else is a bug in the
// caller, not a runtime condition, so it panics rather than returning an
// error.
func Project(intent state.Kind, cur state.State, now time.Time) (next *state.State, consume bool) {
	switch intent {
	case state.Idle, state.Stopped:
		switch {
		case cur.Kind == state.Idle:
			return nil, true
		case cur.Kind == state.Healthy || cur.Kind == state.HealthCheck || cur.Kind == state.Failed:
			s := state.NewSince(state.Stopping, now)
			return &s, false
		case cur.Kind == state.Stopping:
			return nil, false
		default:
			s := state.New(intent)
			return &s, true
		}

	case state.Ready:
		switch {
		case cur.Kind == state.Idle:
			s := state.New(state.Ready)
			return &s, true
		case cur.Kind == state.Healthy || cur.Kind == state.HealthCheck:
			s := state.NewSince(state.Stopping, now)
			return &s, false
		case cur.Kind == state.Stopping:
			return nil, false
		default:
			s := state.New(state.Ready)
			return &s, true
		}

	case state.Healthy:
		switch {
		case cur.Kind == state.Idle:
			s := state.New(state.Ready)
			return &s, true
		case cur.Kind == state.Ready || cur.Kind == state.HealthCheck || cur.Kind == state.Healthy:
			return nil, true
		case cur.Kind == state.Stopping:
			return nil, false
		default:
			s := state.New(state.Ready)
			return &s, true
		}

	default:
		panic(fmt.Sprintf("process: illegal desired-state intent %s", intent))
	}
}

// reconcile consumes at most one intent from r's desired-state queue and
// applies Project's verdict, the way spec.md §4.2 describes: the reconciler
// is the sole writer of Stopping.
func (r *Record) reconcile(now time.Time) {
	if len(r.Desired) == 0 {
		return
	}
	intent := r.Desired[0]
	next, consume := Project(intent.Kind, r.State, now)
	if next != nil {
		r.State = *next
	}
	if consume {
		r.Desired = r.Desired[1:]
	}
}
