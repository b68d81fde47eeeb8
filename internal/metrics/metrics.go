package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"shelfwatch/internal/alerts"
	"shelfwatch/internal/event"
	"shelfwatch/internal/sales"
)

const namespace = "shelfwatch"

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	Ticks              *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	Events             *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	DroppedEvents      prometheus.Counter

	pending        *prometheus.GaugeVec
	suppressed     *prometheus.GaugeVec
	onCooldown     *prometheus.GaugeVec
	entityFailures *prometheus.GaugeVec
	falsePositives prometheus.Gauge
	activeAlerts   prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Processed ticks by outcome."},
			[]string{"outcome"},
		),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent evaluating one tick.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Confirmed events by kind."},
			[]string{"kind"},
		),
		SideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "side_effect_failures_total", Help: "Failed persistence or notification calls."},
			[]string{"op"},
		),
		DroppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_dropped_total", Help: "Events dropped because the dispatch queue was full."},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "pending_validations", Help: "Observations waiting for confirmation."},
			[]string{"engine"},
		),
		suppressed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "suppressed_by_cooldown", Help: "Confirmations suppressed by the cooldown since start."},
			[]string{"engine"},
		),
		onCooldown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "entities_on_cooldown", Help: "Keys currently inside their cooldown window."},
			[]string{"engine"},
		),
		entityFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "entity_failures", Help: "Entity evaluations that panicked since start."},
			[]string{"engine"},
		),
		falsePositives: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "false_positives_filtered", Help: "Unattributed decreases rejected since start."},
		),
		activeAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_alerts", Help: "Alerts waiting for acknowledgment."},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Ticks, m.TickDuration, m.Events, m.SideEffectFailures, m.DroppedEvents,
			m.pending, m.suppressed, m.onCooldown, m.entityFailures, m.falsePositives, m.activeAlerts,
		)
	}
	return m
}

// ObserveEvent counts one confirmed event.
func (m *Metrics) ObserveEvent(ev event.Event) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(ev.Kind())).Inc()
}

// ObserveSales copies the sales engine statistics into gauges.
func (m *Metrics) ObserveSales(s sales.Stats) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues("sales").Set(float64(s.PendingValidations))
	m.suppressed.WithLabelValues("sales").Set(float64(s.SuppressedByCooldown))
	m.onCooldown.WithLabelValues("sales").Set(float64(s.EntitiesOnCooldown))
	m.entityFailures.WithLabelValues("sales").Set(float64(s.EntityFailures))
	m.falsePositives.Set(float64(s.FalsePositivesFiltered))
}

// ObserveAlerts copies the alert engine statistics into gauges.
func (m *Metrics) ObserveAlerts(s alerts.Stats) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues("alerts").Set(float64(s.PendingLowStock + s.PendingExpiration))
	m.suppressed.WithLabelValues("alerts").Set(float64(s.SuppressedByCooldown))
	m.entityFailures.WithLabelValues("alerts").Set(float64(s.EntityFailures))
	m.activeAlerts.Set(float64(s.ActiveAlerts))
}

// SideEffectFailed counts a failed store or notifier call.
func (m *Metrics) SideEffectFailed(op string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(op).Inc()
}

// Dropped counts an event the dispatcher could not queue.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// Tick records one tick outcome and its duration in seconds.
func (m *Metrics) Tick(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(seconds)
}
