// Package metrics exposes the Prometheus counters/gauges an operator would
// want scraped: process state and restart/health-check counts. Entirely
// ambient — the reconciler and state handlers never read these.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gophpeek/procd/internal/state"
)

// ProcessState is an enum-gauge: 1 for the label naming the process's
// current state kind, 0 for every other state label — the usual Prometheus
// idiom for surfacing an enum.
var ProcessState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "procd_process_state",
		Help: "1 for the process's current state, 0 otherwise",
	},
	[]string{"name", "state"},
)

var ProcessRestarts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "procd_process_restarts_total",
		Help: "Total number of times a process has been respawned",
	},
	[]string{"name"},
)

var HealthCheckFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "procd_healthcheck_failures_total",
		Help: "Total number of times a process failed while in the health-check state",
	},
	[]string{"name"},
)

var allStateLabels = []string{
	state.Idle.String(), state.Ready.String(), state.Starting.String(),
	state.HealthCheck.String(), state.Healthy.String(), state.Failed.String(),
	state.WaitingForRetry.String(), state.Completed.String(),
	state.Stopping.String(), state.Stopped.String(),
}

// SetProcessState zeroes every state label for name except the active one,
// which is set to 1.
func SetProcessState(name string, active state.Kind) {
	for _, label := range allStateLabels {
		v := 0.0
		if label == active.String() {
			v = 1
		}
		ProcessState.WithLabelValues(name, label).Set(v)
	}
}
