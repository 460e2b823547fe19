// Package metrics provides Prometheus metrics for the transfer engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics records nothing.
type Metrics struct {
	// Transfer metrics
	TransfersCreated   *prometheus.CounterVec
	TransfersCompleted prometheus.Counter
	TransfersFailed    *prometheus.CounterVec
	TransfersCancelled prometheus.Counter

	// Ranked set metrics
	QueueSize prometheus.Gauge
	HeldSize  prometheus.Gauge

	// Sweep metrics
	SweepDuration *prometheus.HistogramVec
	SweepErrors   *prometheus.CounterVec
	SweepSkipped  *prometheus.CounterVec
	SweepItems    *prometheus.CounterVec

	// Notification metrics
	NotificationsDropped prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the engine metrics under namespace on reg.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransfersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_created_total",
			Help:      "Transfers admitted, by admission status",
		}, []string{"status"}),
		TransfersCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_completed_total",
			Help:      "Transfers finalized",
		}),
		TransfersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_failed_total",
			Help:      "Transfers terminated as FAILED, by reason",
		}, []string{"reason"}),
		TransfersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_cancelled_total",
			Help:      "Transfers cancelled",
		}),

		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Transactions currently in the priority queue",
		}),
		HeldSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "held_size",
			Help:      "Transactions currently time-locked",
		}),

		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Sweep tick duration by sweep",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"sweep"}),
		SweepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Sweep ticks that ended with an error",
		}, []string{"sweep"}),
		SweepSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Sweep ticks skipped because the previous tick was still running",
		}, []string{"sweep"}),
		SweepItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Items a sweep acted on (re-ranked or released)",
		}, []string{"sweep"}),

		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Events dropped because the notification buffer was full",
		}),

		gatherer: reg,
	}
}

func (m *Metrics) RecordCreated(status string) {
	if m == nil {
		return
	}
	m.TransfersCreated.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.TransfersCompleted.Inc()
}

func (m *Metrics) RecordFailed(reason string) {
	if m == nil {
		return
	}
	m.TransfersFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCancelled() {
	if m == nil {
		return
	}
	m.TransfersCancelled.Inc()
}

func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// UpdateSetSizes updates the ranked set gauges. Negative values leave a gauge untouched.
func (m *Metrics) UpdateSetSizes(queued, held int64) {
	if m == nil {
		return
	}
	if queued >= 0 {
		m.QueueSize.Set(float64(queued))
	}
	if held >= 0 {
		m.HeldSize.Set(float64(held))
	}
}

// RecordSweep records one completed tick.
func (m *Metrics) RecordSweep(sweep string, items int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	m.SweepItems.WithLabelValues(sweep).Add(float64(items))
	if err != nil {
		m.SweepErrors.WithLabelValues(sweep).Inc()
	}
}

func (m *Metrics) RecordSweepSkipped(sweep string) {
	if m == nil {
		return
	}
	m.SweepSkipped.WithLabelValues(sweep).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
