package stripesync

import "github.com/prometheus/client_golang/prometheus"

var syncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ratecard",
	Subsystem: "stripesync",
	Name:      "syncs_total",
	Help:      "Stripe sync runs by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(syncsTotal)
}

func observeSync(outcome string) {
	syncsTotal.WithLabelValues(outcome).Inc()
}
