package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker metrics are labelled by target, e.g. "carrier:rates-api".
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Breaker state per target (0 closed, 1 open, 2 half open).",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Breaker state changes per target.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_opened_total",
		Help: "Times a breaker opened per target.",
	}, []string{"target"})

	BreakerRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_rejected_total",
		Help: "Calls refused by an open or probing breaker.",
	}, []string{"target"})

	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_retry_attempts_total",
		Help: "Outbound HTTP attempts beyond the first, per target.",
	}, []string{"target"})
)
