package rollover

import "github.com/prometheus/client_golang/prometheus"

// ClosuresTotal counts rollover balances written at period boundaries.
var ClosuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ratecard",
		Name:      "rollover_closures_total",
		Help:      "Total rollover balances closed at period boundaries.",
	},
)

func init() {
	prometheus.MustRegister(ClosuresTotal)
}
