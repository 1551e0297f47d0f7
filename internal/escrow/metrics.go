package escrow

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "escrow",
		Name:      "transitions_total",
		Help:      "Committed state transitions by resulting state.",
	}, []string{"state"})

	rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "escrow",
		Name:      "rejections_total",
		Help:      "Rejected operations by rejection kind.",
	}, []string{"kind"})

	attestationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "escrow",
		Name:      "attestations_total",
		Help:      "Admin balance attestations by rail.",
	}, []string{"rail"})

	staleRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "escrow",
		Name:      "stale_write_retries_total",
		Help:      "Optimistic-concurrency conflicts retried by the orchestrator.",
	})
)

func init() {
	prometheus.MustRegister(transitionsTotal, rejectionsTotal, attestationsTotal, staleRetriesTotal)
}

func observeRejection(err error) {
	if r, ok := err.(*Rejection); ok && !r.NoOp {
		rejectionsTotal.WithLabelValues(string(r.Kind)).Inc()
	}
}
