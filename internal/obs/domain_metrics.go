package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var domainOnce sync.Once

// Checkout collectors. They stay nil until MustRegisterDomainMetrics runs, so
// callers check before use.
var (
	// CarrierQuoteTotal counts carrier rate calls by carrier and result
	// (ok, error, timeout).
	CarrierQuoteTotal *prometheus.CounterVec
	// CarrierQuoteLatency is the carrier rate call latency in milliseconds.
	CarrierQuoteLatency *prometheus.HistogramVec
	// QuotesPurgedTotal counts expired quotes deleted by the worker.
	QuotesPurgedTotal prometheus.Counter
	// LedgerOperationTotal counts ledger writes by transaction type and result.
	LedgerOperationTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics creates the checkout collectors once per process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CarrierQuoteTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shipping",
			Name:      "carrier_quote_total",
			Help:      "Carrier rate calls by outcome.",
		}, []string{"carrier", "result"}))
		CarrierQuoteLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shipping",
			Name:      "carrier_quote_duration_ms",
			Help:      "Carrier rate call latency in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"carrier"}))
		QuotesPurgedTotal = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shipping",
			Name:      "quotes_purged_total",
			Help:      "Expired shipping quotes deleted.",
		}))
		LedgerOperationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "ledger_operation_total",
			Help:      "Ledger writes by transaction type and outcome.",
		}, []string{"type", "result"}))
	})
}
