package usage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsRecorded counts appended usage events per configuration type outcome.
	EventsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ratecard",
			Name:      "usage_events_recorded_total",
			Help:      "Total usage events appended.",
		},
	)

	// PreviewsTotal counts charge previews by configuration type.
	PreviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratecard",
			Name:      "charge_previews_total",
			Help:      "Total charge previews by configuration type.",
		},
		[]string{"type"},
	)

	// PreviewDuration observes preview latency by configuration type.
	PreviewDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ratecard",
			Name:      "charge_preview_duration_seconds",
			Help:      "Charge preview duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(EventsRecorded, PreviewsTotal, PreviewDuration)
}

// observePreview increments the preview counter and returns a function
// to observe duration.
func observePreview(configType string) func() {
	PreviewsTotal.WithLabelValues(configType).Inc()
	start := time.Now()
	return func() {
		PreviewDuration.WithLabelValues(configType).Observe(time.Since(start).Seconds())
	}
}
