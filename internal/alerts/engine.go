package alerts

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"shelfwatch/internal/debounce"
	"shelfwatch/internal/event"
)

// ErrInvalidOptions is returned by New for unusable options.
var ErrInvalidOptions = errors.New("alerts: invalid options")

// Options tune alert confirmation.
type Options struct {
	LowStockThresholds         map[string]int
	LowStockConfirmIntervals   int
	ExpirationConfirmIntervals int
	Cooldown                   time.Duration
	SnapshotInterval           time.Duration
}

func (o Options) validate() error {
	if len(o.LowStockThresholds) == 0 {
		return fmt.Errorf("%w: low stock thresholds are empty", ErrInvalidOptions)
	}
	for entity, threshold := range o.LowStockThresholds {
		if threshold < 0 {
			return fmt.Errorf("%w: threshold for %q cannot be negative", ErrInvalidOptions, entity)
		}
	}
	if o.LowStockConfirmIntervals < 1 || o.ExpirationConfirmIntervals < 1 {
		return fmt.Errorf("%w: confirm intervals must be at least 1", ErrInvalidOptions)
	}
	if o.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidOptions)
	}
	if o.SnapshotInterval <= 0 {
		return fmt.Errorf("%w: snapshot interval must be greater than zero", ErrInvalidOptions)
	}
	return nil
}

// Stats summarises alert activity.
type Stats struct {
	TotalAlerts          int                `json:"total_alerts"`
	AlertsByKind         map[event.Kind]int `json:"alerts_by_kind"`
	ActiveAlerts         int                `json:"active_alerts"`
	Acknowledged         int                `json:"acknowledged"`
	PendingLowStock      int                `json:"pending_low_stock"`
	PendingExpiration    int                `json:"pending_expiration"`
	SuppressedByCooldown int                `json:"alerts_suppressed_by_cooldown"`
	EntityFailures       int                `json:"entity_failures"`
}

// Engine confirms low-stock and expiration conditions and keeps the set of
// unacknowledged alerts. It is single-writer like sales.Engine.
type Engine struct {
	opts       Options
	thresholds map[string]int
	lowStock   *debounce.Buffer
	expiration *debounce.Buffer
	cooldown   *debounce.Cooldown
	active     map[string]event.Alert
	logger     zerolog.Logger

	lowStockMaxAge   float64
	expirationMaxAge float64

	total        int
	byKind       map[event.Kind]int
	acknowledged int
	failures     int
}

// New builds an engine or returns an error wrapping ErrInvalidOptions.
func New(opts Options, logger zerolog.Logger) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	thresholds := make(map[string]int, len(opts.LowStockThresholds))
	for k, v := range opts.LowStockThresholds {
		thresholds[k] = v
	}
	interval := opts.SnapshotInterval.Seconds()
	return &Engine{
		opts:             opts,
		thresholds:       thresholds,
		lowStock:         debounce.NewBuffer(opts.LowStockConfirmIntervals, debounce.ThresholdContradiction),
		expiration:       debounce.NewBuffer(opts.ExpirationConfirmIntervals, nil),
		cooldown:         debounce.NewCooldown(opts.Cooldown),
		active:           make(map[string]event.Alert),
		logger:           logger.With().Str("component", "alerts").Logger(),
		lowStockMaxAge:   interval * float64(opts.LowStockConfirmIntervals+2),
		expirationMaxAge: interval * float64(opts.ExpirationConfirmIntervals+2),
		byKind:           make(map[event.Kind]int),
	}, nil
}

// Evaluate runs one tick and returns newly confirmed alerts, low stock first.
func (e *Engine) Evaluate(counts map[string]int, freshness map[string]event.FreshnessRecord, ts float64) []event.Alert {
	var out []event.Alert

	for _, entity := range sortedKeys(e.thresholds) {
		if alert, ok := e.guard(entity, func() (event.Alert, bool) {
			return e.checkLowStock(entity, counts[entity], ts)
		}); ok {
			out = append(out, alert)
		}
	}

	for _, entity := range sortedKeys(freshness) {
		record := freshness[entity]
		if alert, ok := e.guard(entity, func() (event.Alert, bool) {
			return e.checkExpiration(entity, record, ts)
		}); ok {
			out = append(out, alert)
		}
	}
	// entities that vanished from the freshness map no longer count as expired.
	for _, entity := range e.expiration.Entities() {
		if _, ok := freshness[entity]; !ok {
			e.expiration.Clear(entity)
		}
	}

	e.lowStock.PruneStale(ts, e.lowStockMaxAge)
	e.expiration.PruneStale(ts, e.expirationMaxAge)
	return out
}

func (e *Engine) guard(entity string, fn func() (event.Alert, bool)) (alert event.Alert, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.failures++
			e.logger.Error().Str("entity", entity).Interface("panic", r).Msg("alert evaluation failed")
			alert, ok = nil, false
		}
	}()
	return fn()
}

func (e *Engine) checkLowStock(entity string, count int, ts float64) (event.Alert, bool) {
	threshold := e.thresholds[entity]
	if count > threshold {
		e.lowStock.Clear(entity)
		return nil, false
	}

	e.lowStock.Record(entity, debounce.Observation{Timestamp: ts, Value: count, Baseline: threshold})
	if !e.lowStock.IsConfirmed(entity, e.opts.LowStockConfirmIntervals) {
		return nil, false
	}
	if !e.cooldown.Allow(event.KindLowStock, entity, ts) {
		return nil, false
	}

	severity := event.SeverityWarning
	if count == 0 {
		severity = event.SeverityCritical
	}
	alert := event.LowStock{
		Entity:       entity,
		CurrentCount: count,
		Threshold:    threshold,
		Severity:     severity,
		Timestamp:    ts,
	}
	e.lowStock.Clear(entity)
	e.emit(alert)
	return alert, true
}

func (e *Engine) checkExpiration(entity string, record event.FreshnessRecord, ts float64) (event.Alert, bool) {
	if !record.IsExpired {
		e.expiration.Clear(entity)
		return nil, false
	}

	e.expiration.Record(entity, debounce.Observation{
		Timestamp: ts,
		Value:     int(record.AgeDays),
		Baseline:  record.ExpirationDays,
	})
	if !e.expiration.IsConfirmed(entity, e.opts.ExpirationConfirmIntervals) {
		return nil, false
	}
	if !e.cooldown.Allow(event.KindExpiration, entity, ts) {
		return nil, false
	}

	alert := event.Expiration{
		Entity:         entity,
		AgeDays:        decimal.NewFromFloat(record.AgeDays).Round(1).InexactFloat64(),
		ExpirationDays: record.ExpirationDays,
		FirstSeen:      record.FirstSeen,
		Timestamp:      ts,
	}
	e.expiration.Clear(entity)
	e.emit(alert)
	return alert, true
}

func (e *Engine) emit(alert event.Alert) {
	e.cooldown.RecordEmission(alert.Kind(), alert.EntityName(), alert.At())
	e.active[alert.ID()] = alert
	e.total++
	e.byKind[alert.Kind()]++
	e.logger.Info().
		Str("id", alert.ID()).
		Str("entity", alert.EntityName()).
		Str("severity", string(alert.Level())).
		Msg(alert.Message())
}

// ActiveAlerts lists unacknowledged alerts ordered by timestamp then ID.
func (e *Engine) ActiveAlerts() []event.Alert {
	out := make([]event.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At() != out[j].At() {
			return out[i].At() < out[j].At()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Acknowledge removes an alert from the active set. Cooldown state is left
// untouched. It reports whether the alert was active.
func (e *Engine) Acknowledge(id string) bool {
	if _, ok := e.active[id]; !ok {
		return false
	}
	delete(e.active, id)
	e.acknowledged++
	e.logger.Info().Str("id", id).Msg("alert acknowledged")
	return true
}

// Thresholds returns a copy of the configured low stock thresholds.
func (e *Engine) Thresholds() map[string]int {
	out := make(map[string]int, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out
}

func (e *Engine) Stats() Stats {
	byKind := make(map[event.Kind]int, len(e.byKind))
	for k, v := range e.byKind {
		byKind[k] = v
	}
	return Stats{
		TotalAlerts:          e.total,
		AlertsByKind:         byKind,
		ActiveAlerts:         len(e.active),
		Acknowledged:         e.acknowledged,
		PendingLowStock:      e.lowStock.Pending(),
		PendingExpiration:    e.expiration.Pending(),
		SuppressedByCooldown: e.cooldown.Suppressed(),
		EntityFailures:       e.failures,
	}
}

// Reset clears pending queues, cooldowns, active alerts and counters.
func (e *Engine) Reset() {
	e.lowStock.Reset()
	e.expiration.Reset()
	e.cooldown.Reset()
	e.active = make(map[string]event.Alert)
	e.total = 0
	e.byKind = make(map[event.Kind]int)
	e.acknowledged = 0
	e.failures = 0
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
