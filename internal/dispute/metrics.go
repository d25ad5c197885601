package dispute

import "github.com/prometheus/client_golang/prometheus"

var (
	disputesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "dispute",
		Name:      "opened_total",
		Help:      "Disputes opened against held payments.",
	})

	disputesResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "dispute",
		Name:      "resolved_total",
		Help:      "Disputes resolved, by favored party.",
	}, []string{"favor"})

	settlementFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "dispute",
		Name:      "settlement_failures_total",
		Help:      "Resolutions whose gateway payout or refund failed.",
	})
)

func init() {
	prometheus.MustRegister(disputesOpened, disputesResolved, settlementFailures)
}
