package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsSubmitted, jobsFinished, jobDuration, jobsInFlight)
}

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_jobs_submitted_total",
			Help: "Jobs accepted by the registry per kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_jobs_finished_total",
			Help: "Jobs that reached a terminal status per kind/status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prism_job_duration_seconds",
			Help:    "Wall time from claim to terminal status.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	jobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prism_jobs_running",
			Help: "Jobs currently claimed by a worker.",
		},
		[]string{"kind"},
	)
)

func JobSubmitted(kind string) {
	jobsSubmitted.WithLabelValues(norm(kind)).Inc()
}

func JobStarted(kind string) {
	jobsInFlight.WithLabelValues(norm(kind)).Inc()
}

func JobFinished(kind, status string, took time.Duration) {
	jobsInFlight.WithLabelValues(norm(kind)).Dec()
	jobsFinished.WithLabelValues(norm(kind), norm(status)).Inc()
	jobDuration.WithLabelValues(norm(kind)).Observe(took.Seconds())
}
