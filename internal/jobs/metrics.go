package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Completed scheduled job runs.",
	}, []string{"job"})

	jobFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "failures_total",
		Help:      "Scheduled job runs that returned an error.",
	}, []string{"job"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Scheduled job run duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	holdsAutoReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "holds_auto_released_total",
		Help:      "Holds released by the auto-release job.",
	})

	holdsReleaseFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "holds_release_failed_total",
		Help:      "Auto-release attempts that failed and were left held.",
	})

	remindersSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "reminders_sent_total",
		Help:      "Release reminders emitted, by day mark.",
	}, []string{"day"})

	reconciliationDiscrepancy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "reconciliation_discrepancy",
		Help:      "Signed difference between held total and gateway balance from the last run.",
	})

	reconciliationMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "jobs",
		Name:      "reconciliation_mismatches_total",
		Help:      "Reconciliation runs that found a nonzero discrepancy.",
	})
)

func init() {
	prometheus.MustRegister(
		jobRuns, jobFailures, jobDuration,
		holdsAutoReleased, holdsReleaseFailed,
		remindersSent,
		reconciliationDiscrepancy, reconciliationMismatches,
	)
}
