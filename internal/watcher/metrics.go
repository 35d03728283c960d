package watcher

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertsRaised counts fired bucket threshold alerts by threshold percent.
var AlertsRaised = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ratecard",
		Name:      "bucket_alerts_total",
		Help:      "Total bucket threshold alerts raised by threshold percent.",
	},
	[]string{"threshold"},
)

func init() {
	prometheus.MustRegister(AlertsRaised)
}

func observeAlert(threshold int) {
	AlertsRaised.WithLabelValues(strconv.Itoa(threshold)).Inc()
}
