package process

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/metrics"
	"github.com/gophpeek/procd/internal/state"
)

// TickPeriod is the supervisor loop's period, at the upper bound spec.md
// §4.4 allows.
const TickPeriod = 100 * time.Millisecond

// Status is the wire-agnostic {name, state} pair RPC handlers render.
type Status struct {
	Name  string
	State string
}

// Daemon holds every supervised process and the single mutex that
// serialises all mutation of them, per spec.md §5's concurrency model.
type Daemon struct {
	mu sync.Mutex

	processes map[string]*Record
	order     []string // stable insertion order, walked every tick

	// pendingRemoval holds names dropped from the last reload that have
	// been commanded to Stopped but have not yet reached it.
	pendingRemoval map[string]bool

	configPath        string
	shutdownRequested bool

	logger *slog.Logger
}

// NewDaemon builds a Daemon from a validated configuration, creating one
// Record per replica in each process block (spec.md §3's `{base}_{i}`
// naming for processes > 1).
func NewDaemon(cfg *config.Config, configPath string, logger *slog.Logger) *Daemon {
	d := &Daemon{
		processes:      make(map[string]*Record),
		pendingRemoval: make(map[string]bool),
		configPath:     configPath,
		logger:         logger,
	}
	for base, pcfg := range cfg.Processes {
		for _, name := range replicaNames(base, pcfg.Processes) {
			d.addRecord(name, pcfg)
		}
	}
	return d
}

func (d *Daemon) addRecord(name string, cfg *config.ProcessConfig) {
	d.processes[name] = NewRecord(name, cfg)
	d.order = append(d.order, name)
}

func replicaNames(base string, n int) []string {
	if n <= 1 {
		return []string{base}
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("%s_%d", base, i)
	}
	return names
}

// Run drives the supervisor loop until ctx is cancelled or a halt brings
// every process to rest, per spec.md §4.4.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done := d.tick(time.Now()); done {
				return nil
			}
		}
	}
}

// tick runs one pass of reconcile-then-handle over every process in stable
// order, and reports whether the daemon should now exit.
func (d *Daemon) tick(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range d.order {
		r := d.processes[name]
		r.reconcile(now)
	}
	for _, name := range d.order {
		r := d.processes[name]
		if next := r.Handle(now); next != nil {
			prev := r.State
			r.State = *next
			if d.logger != nil && next.Kind != prev.Kind {
				d.logger.Info("process state transition",
					"process", name, "from", prev.Kind, "to", next.Kind)
			}
			if next.Kind == state.HealthCheck && prev.Kind != state.HealthCheck {
				metrics.ProcessRestarts.WithLabelValues(name).Inc()
			}
			if next.Kind == state.Failed && next.From != nil && next.From.Kind == state.HealthCheck {
				metrics.HealthCheckFailures.WithLabelValues(name).Inc()
			}
		}
		metrics.SetProcessState(name, d.processes[name].State.Kind)
	}

	if len(d.pendingRemoval) > 0 {
		d.pruneReachedStoppedLocked()
	}

	return d.shutdownRequested && d.allAtRest()
}

// pruneReachedStoppedLocked drops any process awaiting removal the moment
// it reaches Stopped, rather than waiting for the next Reload call. Must be
// called with d.mu held.
func (d *Daemon) pruneReachedStoppedLocked() {
	kept := d.order[:0:0]
	for _, name := range d.order {
		if d.pendingRemoval[name] && d.processes[name].State.Kind == state.Stopped {
			delete(d.processes, name)
			delete(d.pendingRemoval, name)
			continue
		}
		kept = append(kept, name)
	}
	d.order = kept
}

func (d *Daemon) allAtRest() bool {
	for _, name := range d.order {
		switch d.processes[name].State.Kind {
		case state.Stopped, state.Idle, state.Completed:
		default:
			return false
		}
	}
	return true
}

// Status returns {name, state} for every process, in stable order.
func (d *Daemon) Status() []Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	out := make([]Status, 0, len(d.order))
	for _, name := range d.order {
		r := d.processes[name]
		out = append(out, Status{Name: name, State: r.State.Render(now)})
	}
	return out
}

// StatusSingle returns the rendered state of one process.
func (d *Daemon) StatusSingle(name string) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.processes[name]
	if !ok {
		return Status{}, false
	}
	return Status{Name: name, State: r.State.Render(time.Now())}, true
}

// PushDesired appends an operator intent to a process's desired-state
// queue. Reports false if the process does not exist.
func (d *Daemon) PushDesired(name string, kind state.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.processes[name]
	if !ok {
		return false
	}
	r.PushDesired(state.New(kind))
	return true
}

// Halt pushes Stopped to every process and marks the daemon for shutdown
// once they all reach rest, per the `halt` RPC method.
func (d *Daemon) Halt() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range d.order {
		d.processes[name].PushDesired(state.New(state.Stopped))
	}
	d.shutdownRequested = true
}

// Reload applies a freshly parsed configuration (parsing is the caller's
// job) with spec.md §4.6's `reload`
// semantics: new names are added, surviving names get their config swapped
// and a Healthy/Idle intent pushed per the new autostart, and names absent
// from the new config are commanded to Stopped and removed once reached.
func (d *Daemon) Reload(cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wanted := make(map[string]*config.ProcessConfig)
	for base, pcfg := range cfg.Processes {
		for _, name := range replicaNames(base, pcfg.Processes) {
			wanted[name] = pcfg
		}
	}

	for name, pcfg := range wanted {
		if r, ok := d.processes[name]; ok {
			r.Config = pcfg
			if pcfg.Autostart {
				r.PushDesired(state.New(state.Healthy))
			} else {
				r.PushDesired(state.New(state.Idle))
			}
			continue
		}
		d.addRecord(name, pcfg)
	}

	for _, name := range d.order {
		if _, ok := wanted[name]; ok {
			continue
		}
		d.processes[name].PushDesired(state.New(state.Stopped))
		d.pendingRemoval[name] = true
	}

	// A removed name may already be at rest (e.g. it was never started),
	// in which case it can go immediately rather than waiting for a tick.
	d.pruneReachedStoppedLocked()
}
