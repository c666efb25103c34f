package display

import "github.com/prometheus/client_golang/prometheus"

var (
	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "renders_total",
			Help:      "Render operations by kind and result",
		},
		[]string{"render", "result"},
	)

	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "render_duration_seconds",
			Help:      "Time spent driving the display per render",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"render"},
	)

	deviceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "device_errors_total",
			Help:      "Renders aborted by a device failure",
		},
	)

	temperatureDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "temperature_dropped_total",
			Help:      "Temperature overlays dropped because the render queue was full",
		},
	)

	animationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "animations_total",
			Help:      "Completion animations by outcome",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "queue_depth",
			Help:      "Renders waiting for the display",
		},
	)

	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lcd1602",
			Subsystem: "display",
			Name:      "state",
			Help:      "1 for the state currently shown, 0 otherwise",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		rendersTotal,
		renderDuration,
		deviceErrorsTotal,
		temperatureDroppedTotal,
		animationsTotal,
		queueDepth,
		stateGauge,
	)
}
