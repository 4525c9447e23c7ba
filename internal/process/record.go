// Package process holds the process record, the pure state handlers, the
// desired-state reconciler, and the command health-check runner — the core
// the supervisor loop drives one tick at a time.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/state"
)

// exitResult is what a child's exit looks like once observed.
type exitResult struct {
	code     int
	signaled bool
	signal   syscall.Signal
}

// Record is one configured replica: its swappable config, its child handle
// if any, its observed state, its queue of operator intents, and its
// failure counters. The daemon owns every Record; a Record owns its child
// handle and health-check task handle and holds no back-reference.
type Record struct {
	Name   string
	Config *config.ProcessConfig

	State state.State

	// Desired is the FIFO of operator-pushed intents. Never contains
	// Failed, Completed, or WaitingForRetry.
	Desired []state.State

	StartupFailures int
	RuntimeFailures int

	cmd  *exec.Cmd
	pid  int
	pgid int

	stdout *os.File
	stderr *os.File

	exitCh  chan exitResult
	exited  *exitResult

	hc         *healthProbe // outstanding command health-check task, nil if none
	hcAttempts int
	hcNextAt   time.Time

	// stopSignalsSent/stopCycleSince track graceful-stop escalation: one
	// signal is sent per tick while the child has not exited, the list
	// index advancing until stoptime_s elapses and SIGKILL is forced.
	stopSignalsSent int
	stopCycleSince  time.Time
}

// NewRecord creates a record in its lifecycle-initial state: Ready if the
// config autostarts, else Idle.
func NewRecord(name string, cfg *config.ProcessConfig) *Record {
	r := &Record{Name: name, Config: cfg}
	if cfg.Autostart {
		r.State = state.New(state.Ready)
	} else {
		r.State = state.New(state.Idle)
	}
	return r
}

// HasChild reports whether a child is currently attached, matching the
// invariant pid.is_some() <=> child.is_some() <=> running-like state.
func (r *Record) HasChild() bool { return r.cmd != nil }

// PID returns the child's pid, or 0 if none is attached.
func (r *Record) PID() int { return r.pid }

// PushDesired appends an operator intent to the desired-state queue.
func (r *Record) PushDesired(s state.State) {
	r.Desired = append(r.Desired, s)
}

// checkExited polls the one-shot exit channel without blocking, caching the
// result the first time it is observed so repeated calls within the same
// tick (or across ticks) see the same answer.
func (r *Record) checkExited() *exitResult {
	if r.exited != nil {
		return r.exited
	}
	select {
	case res := <-r.exitCh:
		r.exited = &res
		return r.exited
	default:
		return nil
	}
}

// exitCodeAccepted reports whether the observed exit is a "clean" one per
// ProcessConfig.ExitCodes. A signal-terminated exit is classified as
// Failed unless the negated signal value is explicitly accepted — the
// simplification spec.md §4.1 allows.
func exitCodeAccepted(cfg *config.ProcessConfig, res *exitResult) bool {
	code := res.code
	if res.signaled {
		code = -int(res.signal)
	}
	for _, c := range cfg.ExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// spawnMu serialises the umask-apply/Start/umask-restore window across the
// whole process. The supervisor loop is single-threaded and cooperative, so
// under normal operation only one goroutine ever spawns at a time; this
// guards the same invariant if a caller ever spawns from a second goroutine.
var spawnMu sync.Mutex

// spawn starts the child per spec.md §4.1's "Respawn" algorithm: truncate
// the configured stdout/stderr files, chdir to workingdir, apply umask,
// overlay the environment, and exec cmd/args in its own process group.
func (r *Record) spawn() error {
	cfg := r.Config

	stdout, err := openLogFile(cfg.Stdout)
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := openLogFile(cfg.Stderr)
	if err != nil {
		stdout.Close()
		return fmt.Errorf("open stderr: %w", err)
	}

	cmd := exec.Command(cfg.Cmd, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = overlayEnv(os.Environ(), cfg.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	mask, err := parseUmask(cfg.Umask)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("parse umask: %w", err)
	}

	spawnMu.Lock()
	prev := syscall.Umask(mask)
	startErr := cmd.Start()
	syscall.Umask(prev)
	spawnMu.Unlock()

	if startErr != nil {
		stdout.Close()
		stderr.Close()
		return startErr
	}

	r.cmd = cmd
	r.pid = cmd.Process.Pid
	r.pgid = r.pid
	r.stdout = stdout
	r.stderr = stderr
	r.exitCh = make(chan exitResult, 1)
	r.exited = nil
	r.stopSignalsSent = 0

	go func(cmd *exec.Cmd, ch chan<- exitResult) {
		err := cmd.Wait()
		ch <- classifyWait(err)
	}(cmd, r.exitCh)

	return nil
}

// signal sends sig to the child's whole process group, the way a graceful
// stop must reach any children the supervised process forked itself.
func (r *Record) signal(sig syscall.Signal) error {
	if r.pgid == 0 {
		return nil
	}
	return syscall.Kill(-r.pgid, sig)
}

// reap closes the log file handles and clears the child handle once a
// process has fully exited and been observed. Safe to call once per exit.
func (r *Record) reap() {
	if r.stdout != nil {
		r.stdout.Close()
		r.stdout = nil
	}
	if r.stderr != nil {
		r.stderr.Close()
		r.stderr = nil
	}
	r.cmd = nil
	r.pid = 0
	r.pgid = 0
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func overlayEnv(base []string, overlay map[string]string) []string {
	env := make([]string, len(base), len(base)+len(overlay))
	copy(env, base)
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

func parseUmask(s string) (int, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	if v > 0o777 {
		return 0, fmt.Errorf("umask %s out of range", s)
	}
	return int(v), nil
}

func classifyWait(err error) exitResult {
	if err == nil {
		return exitResult{code: 0}
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return exitResult{code: -1}
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitResult{code: exitErr.ExitCode()}
	}
	if status.Signaled() {
		return exitResult{signaled: true, signal: status.Signal()}
	}
	return exitResult{code: status.ExitStatus()}
}

var signalByName = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGTERM": syscall.SIGTERM,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
	"SIGKILL": syscall.SIGKILL,
	"SIGABRT": syscall.SIGABRT,
}

func parseSignal(name string) syscall.Signal {
	if sig, ok := signalByName[name]; ok {
		return sig
	}
	return syscall.SIGTERM
}
