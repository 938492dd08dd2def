package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll outcomes recorded in the polls_total counter.
const (
	resultOK        = "ok"
	resultFailed    = "failed"
	resultError     = "error"
	resultNoAdapter = "no_adapter"
	resultSkipped   = "no_endpoint"
)

// Metrics instruments the scheduler.
type Metrics struct {
	ticks        prometheus.Counter
	ticksSkipped prometheus.Counter
	tickErrors   prometheus.Counter
	tickDuration prometheus.Histogram
	polls        *prometheus.CounterVec
	purged       prometheus.Counter
	devices      prometheus.Gauge
	points       prometheus.Counter
}

// NewMetrics creates the scheduler metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "ticks_total",
			Help:      "Polling ticks executed.",
		}),
		ticksSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because the previous tick was still running.",
		}),
		tickErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "tick_errors_total",
			Help:      "Ticks aborted by an engine-level failure.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one polling tick.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "polls_total",
			Help:      "Device poll attempts by result.",
		}, []string{"result"}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "devices_expired_total",
			Help:      "Devices removed after their TTL elapsed.",
		}),
		devices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "accumulator",
			Subsystem: "runner",
			Name:      "devices",
			Help:      "Devices currently registered.",
		}),
		points: f.NewCounter(prometheus.CounterOpts{
			Namespace: "accumulator",
			Subsystem: "history",
			Name:      "points_written_total",
			Help:      "Metric points pushed into the history engine.",
		}),
	}
}
