package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_jobs_total",
			Help: "Reply jobs by outcome (succeeded, retried, failed).",
		},
		[]string{"outcome"},
	)

	// Wall clock from first attempt to terminal state, backoff included.
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbot_job_duration_seconds",
			Help:    "Duration of reply jobs in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbot_job_queue_depth",
			Help: "Jobs accepted by the queue and not yet finished.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, queueDepth)
}

func observeJob(outcome string, start time.Time) {
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
