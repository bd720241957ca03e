package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(commandRuns, commandLatency, checkoutsActive)
}

var (
	commandRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_command_runs_total",
			Help: "External command invocations per tool/operation/outcome.",
		},
		[]string{"tool", "op", "success"},
	)

	commandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prism_command_seconds",
			Help:    "External command latency per tool/operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"tool", "op"},
	)

	checkoutsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prism_checkouts_active",
			Help: "Workspace checkouts prepared and not yet released.",
		},
	)
)

func ObserveCommand(tool, op string, took time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	commandRuns.WithLabelValues(norm(tool), norm(op), success).Inc()
	commandLatency.WithLabelValues(norm(tool), norm(op)).Observe(took.Seconds())
}

func CheckoutPrepared() { checkoutsActive.Inc() }

func CheckoutReleased() { checkoutsActive.Dec() }
