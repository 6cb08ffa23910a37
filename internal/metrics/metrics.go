package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_pipeline_stage_outcomes_total",
		Help: "Stage invocation outcomes by stage and result.",
	}, []string{"stage", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_pipeline_stage_duration_seconds",
		Help:    "Wall-clock duration of stage invocations.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	callsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_pipeline_calls_submitted_total",
		Help: "Calls accepted into the pipeline.",
	})

	momentsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_pipeline_moments_detected_total",
		Help: "Coachable moments detected by category.",
	}, []string{"category"})

	leaseContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_pipeline_lease_contention_total",
		Help: "Advance invocations that lost the lease race.",
	})
)

func CallSubmitted()            { callsSubmitted.Inc() }
func LeaseContended()           { leaseContention.Inc() }
func MomentDetected(cat string) { momentsDetected.WithLabelValues(cat).Inc() }

func StageSucceeded(stage string, d time.Duration) {
	stageOutcomes.WithLabelValues(stage, "succeeded").Inc()
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func StageFailed(stage string, d time.Duration) {
	stageOutcomes.WithLabelValues(stage, "failed").Inc()
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
