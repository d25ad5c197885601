package webhook

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "webhook",
		Name:      "events_processed_total",
		Help:      "Gateway events applied, by event type.",
	}, []string{"event_type"})

	eventsDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "webhook",
		Name:      "events_duplicate_total",
		Help:      "Redelivered gateway events acknowledged without writes.",
	}, []string{"event_type"})

	eventsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perks",
		Subsystem: "webhook",
		Name:      "events_rejected_total",
		Help:      "Deliveries rejected for a bad or missing signature.",
	})
)

func init() {
	prometheus.MustRegister(eventsProcessed, eventsDuplicate, eventsRejected)
}
