package process

import (
	"testing"
	"time"

	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/state"
)

// waitForProbe drains p's one-shot channel, failing the test if no result
// arrives within timeout.
func waitForProbe(t *testing.T, p *healthProbe, timeout time.Duration) *probeResult {
	t.Helper()
	select {
	case res := <-p.resultCh:
		return &res
	case <-time.After(timeout):
		t.Fatal("probe did not report a result within deadline")
		return nil
	}
}

// TestStartProbePassed covers spec.md §4.3: a probe command exiting 0
// reports Passed on the one-shot channel.
func TestStartProbePassed(t *testing.T) {
	hc := &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/true", TimeoutS: 2}
	p := startProbe(hc)
	defer p.cancel()

	res := waitForProbe(t, p, 2*time.Second)
	if res.outcome != probePassed {
		t.Fatalf("outcome = %v, want probePassed", res.outcome)
	}
}

// TestStartProbeFailed covers spec.md §4.3: a probe command exiting nonzero
// reports Failed with a non-timeout reason.
func TestStartProbeFailed(t *testing.T) {
	hc := &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/false", TimeoutS: 2}
	p := startProbe(hc)
	defer p.cancel()

	res := waitForProbe(t, p, 2*time.Second)
	if res.outcome != probeFailed {
		t.Fatalf("outcome = %v, want probeFailed", res.outcome)
	}
	if res.reason == "" || res.reason == "timeout" {
		t.Fatalf("reason = %q, want a non-timeout exit error", res.reason)
	}
}

// TestStartProbeTimeout covers spec.md §4.3's timeout_s bound: a probe that
// outlives its deadline is reported Failed with reason "timeout", and the
// underlying process is killed rather than left running.
func TestStartProbeTimeout(t *testing.T) {
	hc := &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/sleep", Args: []string{"5"}, TimeoutS: 1}
	p := startProbe(hc)
	defer p.cancel()

	res := waitForProbe(t, p, 3*time.Second)
	if res.outcome != probeFailed {
		t.Fatalf("outcome = %v, want probeFailed", res.outcome)
	}
	if res.reason != "timeout" {
		t.Fatalf("reason = %q, want %q", res.reason, "timeout")
	}
}

// TestRunCommandHealthCheckRetryBackoffExhaustion covers spec.md §8/§3's
// healthcheck retry budget: a command that always fails must be probed
// exactly retries+1 times before runCommandHealthCheck reports exhausted.
func TestRunCommandHealthCheckRetryBackoffExhaustion(t *testing.T) {
	hc := &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/false", TimeoutS: 2, Retries: 2, BackoffS: 0}
	r := &Record{Config: &config.ProcessConfig{}}

	var healthy, exhausted bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		healthy, exhausted = r.runCommandHealthCheck(hc, time.Now())
		if healthy || exhausted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if healthy {
		t.Fatal("expected eventual failure, got healthy")
	}
	if !exhausted {
		t.Fatal("expected exhaustion once retries were spent")
	}
	if r.hcAttempts != hc.Retries+1 {
		t.Fatalf("hcAttempts = %d, want %d (initial probe + %d retries)", r.hcAttempts, hc.Retries+1, hc.Retries)
	}
}

// TestRunCommandHealthCheckBackoffDelaysRetry covers spec.md §4.1's
// "sleep backoff_s then re-probe": a call made before backoff_s elapses
// must not start a new probe, and one made after it must.
func TestRunCommandHealthCheckBackoffDelaysRetry(t *testing.T) {
	hc := &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/false", TimeoutS: 2, Retries: 3, BackoffS: 1}
	r := &Record{Config: &config.ProcessConfig{}}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && r.hcAttempts == 0 {
		r.runCommandHealthCheck(hc, time.Now())
		time.Sleep(5 * time.Millisecond)
	}
	if r.hcAttempts != 1 {
		t.Fatalf("expected exactly one failed probe before backoff, got hcAttempts=%d", r.hcAttempts)
	}
	if r.hc != nil {
		t.Fatal("probe handle should be cleared between attempts")
	}

	healthy, exhausted := r.runCommandHealthCheck(hc, time.Now())
	if healthy || exhausted {
		t.Fatal("unexpected resolution before backoff_s elapsed")
	}
	if r.hc != nil {
		t.Fatal("a new probe started before backoff_s elapsed")
	}

	healthy, exhausted = r.runCommandHealthCheck(hc, time.Now().Add(2*time.Second))
	if healthy || exhausted {
		t.Fatal("unexpected resolution on the retry-starting call")
	}
	if r.hc == nil {
		t.Fatal("expected a new probe once backoff_s elapsed")
	}
	r.stopHealthCheck()
}

// TestCommandHealthCheckCancelledOnStateExit covers spec.md §4.3: a state
// exit away from HealthCheck/Healthy must cancel any outstanding probe
// task rather than letting it run to completion.
func TestCommandHealthCheckCancelledOnStateExit(t *testing.T) {
	hc := &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/sleep", Args: []string{"5"}, TimeoutS: 10, Retries: 5, BackoffS: 0}
	r := &Record{Config: &config.ProcessConfig{}}

	r.runCommandHealthCheck(hc, time.Now())
	if r.hc == nil {
		t.Fatal("expected an outstanding probe after the first call")
	}
	probe := r.hc

	r.stopHealthCheck()
	if r.hc != nil {
		t.Fatal("stopHealthCheck should clear the outstanding probe handle")
	}

	select {
	case <-probe.resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelling the probe did not kill its process promptly")
	}
}

// TestCommandHealthCheckPassesThenHealthy drives a Command healthcheck
// through a real process via handleHealthCheck, exercising the component
// end to end rather than in isolation.
func TestCommandHealthCheckPassesThenHealthy(t *testing.T) {
	cfg := testConfig(t, "/bin/sleep", "10")
	cfg.HealthCheck = &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/true", TimeoutS: 2, Retries: 0, BackoffS: 0}
	r := NewRecord("probed-ok", cfg)
	defer r.signal(9)

	tick(r, time.Now()) // Ready -> HealthCheck, spawns the sleeper

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && r.State.Kind != state.Healthy {
		tick(r, time.Now())
		time.Sleep(10 * time.Millisecond)
	}

	if r.State.Kind != state.Healthy {
		t.Fatalf("state = %v, want Healthy", r.State.Kind)
	}
}

// TestCommandHealthCheckExhaustionYieldsFailed drives a Command healthcheck
// that never passes through failure/retry/backoff/exhaustion via
// handleHealthCheck, covering spec.md §8's testable properties end to end.
func TestCommandHealthCheckExhaustionYieldsFailed(t *testing.T) {
	cfg := testConfig(t, "/bin/sleep", "10")
	cfg.HealthCheck = &config.HealthCheckConfig{Mode: config.HealthCheckCommand, Cmd: "/bin/false", TimeoutS: 1, Retries: 1, BackoffS: 0}
	r := NewRecord("probed-fail", cfg)
	defer r.signal(9)

	tick(r, time.Now()) // Ready -> HealthCheck, spawns the sleeper

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && r.State.Kind != state.Failed {
		tick(r, time.Now())
		time.Sleep(10 * time.Millisecond)
	}

	if r.State.Kind != state.Failed {
		t.Fatalf("state = %v, want Failed", r.State.Kind)
	}
	if r.State.From == nil || r.State.From.Kind != state.HealthCheck {
		t.Fatalf("Failed state should carry HealthCheck, got %v", r.State.From)
	}
}
