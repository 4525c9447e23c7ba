package process

import (
	"context"
	"os/exec"
	"time"

	"github.com/gophpeek/procd/internal/config"
)

// probeOutcome is the one-shot result a health-check task reports.
type probeOutcome int

const (
	probePassed probeOutcome = iota
	probeFailed
)

type probeResult struct {
	outcome probeOutcome
	reason  string
}

// healthProbe is the detached cooperative task behind a single outstanding
// command health check. Exactly one exists per process at any time; a new
// probe is only started once the previous one's result has been consumed.
type healthProbe struct {
	resultCh chan probeResult
	cancel   context.CancelFunc
}

// startProbe runs hc.Cmd/hc.Args with a timeout_s deadline in its own
// goroutine and reports Passed/Failed on a buffered one-shot channel.
func startProbe(hc *config.HealthCheckConfig) *healthProbe {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(hc.TimeoutS)*time.Second)
	p := &healthProbe{
		resultCh: make(chan probeResult, 1),
		cancel:   cancel,
	}

	go func() {
		cmd := exec.CommandContext(ctx, hc.Cmd, hc.Args...)
		err := cmd.Run()
		if ctx.Err() == context.DeadlineExceeded {
			p.resultCh <- probeResult{outcome: probeFailed, reason: "timeout"}
			return
		}
		if err != nil {
			p.resultCh <- probeResult{outcome: probeFailed, reason: err.Error()}
			return
		}
		p.resultCh <- probeResult{outcome: probePassed}
	}()

	return p
}

// poll returns the probe's result without blocking, or nil if still running.
func (p *healthProbe) poll() *probeResult {
	select {
	case res := <-p.resultCh:
		return &res
	default:
		return nil
	}
}

// stopHealthCheck cancels any outstanding probe task and drops the handle,
// per spec.md §4.3: a state exit from HealthCheck/Healthy cancels it.
func (r *Record) stopHealthCheck() {
	if r.hc != nil {
		r.hc.cancel()
		r.hc = nil
	}
	r.hcAttempts = 0
	r.hcNextAt = time.Time{}
}

// runCommandHealthCheck drives one tick of Command-mode health checking for
// the HealthCheck handler: start a probe if none is outstanding, otherwise
// poll it. Returns (healthy, exhausted) — healthy means transition to
// Healthy; exhausted means retries are spent and the caller should fail.
func (r *Record) runCommandHealthCheck(hc *config.HealthCheckConfig, now time.Time) (healthy bool, exhausted bool) {
	if r.hc == nil {
		if !r.hcNextAt.IsZero() && now.Before(r.hcNextAt) {
			return false, false
		}
		r.hc = startProbe(hc)
		return false, false
	}

	res := r.hc.poll()
	if res == nil {
		return false, false
	}

	r.hc = nil
	if res.outcome == probePassed {
		return true, false
	}

	r.hcAttempts++
	if r.hcAttempts > hc.Retries {
		return false, true
	}
	r.hcNextAt = now.Add(time.Duration(hc.BackoffS) * time.Second)
	return false, false
}
