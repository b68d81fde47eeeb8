package sales

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"shelfwatch/internal/debounce"
	"shelfwatch/internal/event"
)

// ErrInvalidOptions is returned by New for unusable options.
var ErrInvalidOptions = errors.New("sales: invalid options")

// Options tune sale confirmation.
type Options struct {
	ConfirmIntervals  int
	MinDeltaThreshold int
	Cooldown          time.Duration
	SnapshotInterval  time.Duration
}

func (o Options) validate() error {
	if o.ConfirmIntervals < 1 {
		return fmt.Errorf("%w: confirm intervals must be at least 1", ErrInvalidOptions)
	}
	if o.MinDeltaThreshold < 1 {
		return fmt.Errorf("%w: min delta threshold must be at least 1", ErrInvalidOptions)
	}
	if o.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidOptions)
	}
	if o.SnapshotInterval <= 0 {
		return fmt.Errorf("%w: snapshot interval must be greater than zero", ErrInvalidOptions)
	}
	return nil
}

// Stats summarises engine activity since construction or the last Reset.
type Stats struct {
	TotalSales             int            `json:"total_sales"`
	SalesByEntity          map[string]int `json:"sales_by_entity"`
	FalsePositivesFiltered int            `json:"false_positives_filtered"`
	PendingValidations     int            `json:"pending_validations"`
	SuppressedByCooldown   int            `json:"suppressed_by_cooldown"`
	EntitiesOnCooldown     int            `json:"entities_on_cooldown"`
	EntityFailures         int            `json:"entity_failures"`
}

// Engine turns inventory snapshots into confirmed sale events.
//
// Engine is single-writer: callers serialise ProcessSnapshot, Seed, Stats
// and Reset.
type Engine struct {
	opts     Options
	maxAge   float64
	history  *debounce.Ring[event.Snapshot]
	pending  *debounce.Buffer
	cooldown *debounce.Cooldown
	logger   zerolog.Logger

	totalSales    int
	salesByEntity map[string]int
	filtered      int
	failures      int
	lastTS        float64
}

// New builds an engine or returns an error wrapping ErrInvalidOptions.
func New(opts Options, logger zerolog.Logger) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		opts:          opts,
		maxAge:        opts.SnapshotInterval.Seconds() * float64(opts.ConfirmIntervals+2),
		history:       debounce.NewRing[event.Snapshot](opts.ConfirmIntervals + 1),
		pending:       debounce.NewBuffer(opts.ConfirmIntervals, debounce.SaleContradiction),
		cooldown:      debounce.NewCooldown(opts.Cooldown),
		logger:        logger.With().Str("component", "sales").Logger(),
		salesByEntity: make(map[string]int),
	}, nil
}

// Seed installs counts as the previous snapshot, so a restart compares the
// first live tick against the last persisted inventory.
func (e *Engine) Seed(counts map[string]int, ts float64) {
	e.history.Clear()
	e.history.Push(event.Snapshot{Timestamp: ts, Counts: copyCounts(counts)})
	e.lastTS = ts
}

// ProcessSnapshot evaluates one tick and returns the sales it confirmed.
func (e *Engine) ProcessSnapshot(counts map[string]int, ts float64) []event.Sale {
	// expired queues must be gone before any entity can extend them.
	e.pruneStale(ts)

	current := event.Snapshot{Timestamp: ts, Counts: copyCounts(counts)}
	previous, ok := e.history.Last()
	e.history.Push(current)
	e.lastTS = ts
	if !ok {
		e.logger.Debug().Int("entities", len(current.Counts)).Msg("first snapshot stored")
		return nil
	}

	var sales []event.Sale
	totalDelta := 0
	for _, entity := range e.entities(previous.Counts, current.Counts) {
		prev := previous.Counts[entity]
		cur := current.Counts[entity]
		totalDelta += cur - prev

		sale, emitted := e.guardEntity(entity, prev, cur, ts)
		if emitted {
			sales = append(sales, sale)
		}
	}

	if totalDelta < 0 && len(sales) == 0 {
		if sale, ok := e.unattributed(totalDelta, ts); ok {
			sales = append(sales, sale)
		}
	}

	e.pruneStale(ts)
	return sales
}

func (e *Engine) pruneStale(ts float64) {
	if dropped := e.pending.PruneStale(ts, e.maxAge); dropped > 0 {
		e.logger.Debug().Int("dropped", dropped).Msg("pruned stale pending observations")
	}
}

func (e *Engine) guardEntity(entity string, prev, cur int, ts float64) (sale event.Sale, emitted bool) {
	defer func() {
		if r := recover(); r != nil {
			e.failures++
			e.pending.Clear(entity)
			e.logger.Error().Str("entity", entity).Interface("panic", r).Msg("entity evaluation failed")
			sale, emitted = event.Sale{}, false
		}
	}()
	return e.evaluateEntity(entity, prev, cur, ts)
}

func (e *Engine) evaluateEntity(entity string, prev, cur int, ts float64) (event.Sale, bool) {
	delta := cur - prev
	switch {
	case delta > 0:
		if e.pending.Has(entity) {
			e.logger.Debug().Str("entity", entity).Int("delta", delta).Msg("pending decrease contradicted")
		}
		e.pending.Clear(entity)
		return event.Sale{}, false
	case delta < 0 && -delta >= e.opts.MinDeltaThreshold:
		baseline := prev
		if first, ok := e.pending.First(entity); ok {
			baseline = first.Baseline
		}
		e.pending.Record(entity, debounce.Observation{Timestamp: ts, Value: cur, Baseline: baseline})
	case e.pending.Has(entity):
		first, _ := e.pending.First(entity)
		e.pending.Record(entity, debounce.Observation{Timestamp: ts, Value: cur, Baseline: first.Baseline})
	default:
		return event.Sale{}, false
	}

	if !e.pending.IsConfirmed(entity, e.opts.ConfirmIntervals) {
		return event.Sale{}, false
	}
	if !e.cooldown.Allow(event.KindSale, entity, ts) {
		e.logger.Debug().Str("entity", entity).Msg("confirmed sale suppressed by cooldown")
		return event.Sale{}, false
	}

	first, _ := e.pending.First(entity)
	sale := event.Sale{
		Entity:          entity,
		Quantity:        first.Baseline - first.Value,
		InventoryBefore: first.Baseline,
		InventoryAfter:  cur,
		Timestamp:       ts,
		Attributed:      true,
	}
	e.pending.Clear(entity)
	e.cooldown.RecordEmission(event.KindSale, entity, ts)
	e.recordSale(sale)
	return sale, true
}

// unattributed applies the stricter check for decreases no single entity
// explains: the drop must be at least twice the minimum delta and the total
// must strictly decrease across the whole history window.
func (e *Engine) unattributed(totalDelta int, ts float64) (event.Sale, bool) {
	if -totalDelta < 2*e.opts.MinDeltaThreshold {
		e.filtered++
		return event.Sale{}, false
	}
	if e.history.Len() < e.history.Cap() {
		return event.Sale{}, false
	}

	totals := make([]int, e.history.Len())
	for i := range totals {
		totals[i] = e.history.At(i).Total()
	}
	for i := 1; i < len(totals); i++ {
		if totals[i] >= totals[i-1] {
			e.filtered++
			return event.Sale{}, false
		}
	}

	if !e.cooldown.Allow(event.KindSale, event.UnknownEntity, ts) {
		return event.Sale{}, false
	}

	n := len(totals)
	sale := event.Sale{
		Entity:          event.UnknownEntity,
		Quantity:        -totalDelta,
		InventoryBefore: totals[n-2],
		InventoryAfter:  totals[n-1],
		Timestamp:       ts,
		Attributed:      false,
	}
	e.cooldown.RecordEmission(event.KindSale, event.UnknownEntity, ts)
	e.recordSale(sale)
	return sale, true
}

func (e *Engine) recordSale(sale event.Sale) {
	e.totalSales++
	e.salesByEntity[sale.Entity] += sale.Quantity
	e.logger.Info().
		Str("entity", sale.Entity).
		Int("quantity", sale.Quantity).
		Int("before", sale.InventoryBefore).
		Int("after", sale.InventoryAfter).
		Bool("attributed", sale.Attributed).
		Msg("sale confirmed")
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	byEntity := make(map[string]int, len(e.salesByEntity))
	for k, v := range e.salesByEntity {
		byEntity[k] = v
	}
	return Stats{
		TotalSales:             e.totalSales,
		SalesByEntity:          byEntity,
		FalsePositivesFiltered: e.filtered,
		PendingValidations:     e.pending.Pending(),
		SuppressedByCooldown:   e.cooldown.Suppressed(),
		EntitiesOnCooldown:     e.cooldown.Active(e.lastTS),
		EntityFailures:         e.failures,
	}
}

// Reset clears history, pending queues, cooldowns and counters.
func (e *Engine) Reset() {
	e.history.Clear()
	e.pending.Reset()
	e.cooldown.Reset()
	e.totalSales = 0
	e.salesByEntity = make(map[string]int)
	e.filtered = 0
	e.failures = 0
	e.lastTS = 0
}

// entities returns the sorted union of both snapshots plus every entity
// still holding a pending queue.
func (e *Engine) entities(a, b map[string]int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	for _, k := range e.pending.Entities() {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
