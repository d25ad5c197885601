package escrow

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "escrow",
		Name:      "transitions_total",
		Help:      "Effective hold state transitions by from/to state.",
	}, []string{"from", "to"})

	transitionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "escrow",
		Name:      "transitions_rejected_total",
		Help:      "Rejected transition attempts by requested target state.",
	}, []string{"target"})

	holdsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "escrow",
		Name:      "holds_created_total",
		Help:      "Total escrow holds created.",
	})
)

func init() {
	prometheus.MustRegister(transitionsTotal, transitionsRejected, holdsCreatedTotal)
}
