package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shelfwatch/internal/alerts"
	"shelfwatch/internal/event"
	"shelfwatch/internal/freshness"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/sales"
	"shelfwatch/internal/scheduler"
	"shelfwatch/internal/source"
	"shelfwatch/internal/storage"
)

var (
	// ErrOutOfOrder rejects a tick whose timestamp is not after the previous one.
	ErrOutOfOrder = errors.New("snapshot timestamp is not after the previous tick")
	// ErrAlertNotFound is returned when acknowledging an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")
)

// Deps collects the collaborators of a Service. Only Sales, Alerts and
// Freshness are required.
type Deps struct {
	Sales      *sales.Engine
	Alerts     *alerts.Engine
	Freshness  *freshness.Tracker
	Source     source.Source
	Store      storage.PersistenceStore
	Dispatcher *Dispatcher
	Scheduler  *scheduler.Scheduler
	Metrics    *metrics.Metrics
	LockKey    int64
}

// TickResult lists the events confirmed by one tick.
type TickResult struct {
	Sales  []event.Sale
	Alerts []event.Alert
}

// Events returns sales followed by alerts.
func (r TickResult) Events() []event.Event {
	out := make([]event.Event, 0, len(r.Sales)+len(r.Alerts))
	for _, s := range r.Sales {
		out = append(out, s)
	}
	for _, a := range r.Alerts {
		out = append(out, a)
	}
	return out
}

// Stats is the combined view served by the API.
type Stats struct {
	Sales        sales.Stats    `json:"sales"`
	Alerts       alerts.Stats   `json:"alerts"`
	Dispatch     DispatchStats  `json:"dispatch"`
	Ticks        int            `json:"ticks"`
	Rejected     int            `json:"rejected"`
	SourceErrors int            `json:"source_errors"`
	StoreErrors  int            `json:"store_errors"`
	LastTick     *time.Time     `json:"last_tick,omitempty"`
	Inventory    map[string]int `json:"inventory"`
}

// Service owns both engines and serialises every call into them.
type Service struct {
	mu         sync.Mutex
	sales      *sales.Engine
	alerts     *alerts.Engine
	freshness  *freshness.Tracker
	source     source.Source
	store      storage.PersistenceStore
	dispatcher *Dispatcher
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64

	lastTS       float64
	hasLast      bool
	inventory    map[string]int
	ticks        int
	rejected     int
	sourceErrors int
	storeErrors  int
}

// New constructs the monitoring service.
func New(deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Sales == nil || deps.Alerts == nil || deps.Freshness == nil {
		return nil, errors.New("sales, alerts and freshness are required")
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		sales:      deps.Sales,
		alerts:     deps.Alerts,
		freshness:  deps.Freshness,
		source:     deps.Source,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		scheduler:  deps.Scheduler,
		metrics:    deps.Metrics,
		logger:     logger.With().Str("component", "service").Logger(),
		locker:     locker,
		lockKey:    deps.LockKey,
		inventory:  make(map[string]int),
	}, nil
}

// Run begins the aligned tick loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.source == nil {
		return fmt.Errorf("source not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// Restore seeds the engines from persisted state so a restart does not read
// as a mass decrease.
func (s *Service) Restore(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.freshness.Restore(ctx, now); err != nil {
		return err
	}
	if s.store == nil {
		return nil
	}
	latest, ok, err := s.store.LatestInventory(ctx)
	if err != nil {
		return fmt.Errorf("load latest inventory: %w", err)
	}
	if !ok {
		s.logger.Info().Msg("no persisted inventory, starting fresh")
		return nil
	}
	ts := event.Timestamp(latest.Timestamp)
	s.sales.Seed(latest.Counts, ts)
	s.lastTS, s.hasLast = ts, true
	s.inventory = copyCounts(latest.Counts)
	s.logger.Info().
		Time("snapshot_at", latest.Timestamp).
		Int("total_items", latest.TotalItems).
		Msg("inventory state restored")
	return nil
}

// ProcessTick 执行单个 tick: 读取计数并送入引擎。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	reading, err := s.source.Read(ctx)
	if err != nil {
		if errors.Is(err, source.ErrNoReading) {
			s.logger.Debug().Time("tick", tick).Msg("no reading yet")
			return nil
		}
		s.mu.Lock()
		s.sourceErrors++
		s.mu.Unlock()
		s.metrics.Tick("source_error", 0)
		return fmt.Errorf("read source: %w", err)
	}

	_, err = s.Process(ctx, reading.Counts, reading.FrameNumber, tick)
	return err
}

// Process evaluates one snapshot taken at at and dispatches the confirmed
// events. Timestamps must strictly increase.
func (s *Service) Process(ctx context.Context, counts map[string]int, frameNumber int64, at time.Time) (TickResult, error) {
	started := time.Now()
	ts := event.Timestamp(at)

	s.mu.Lock()
	if s.hasLast && ts <= s.lastTS {
		s.rejected++
		last := s.lastTS
		s.mu.Unlock()
		s.metrics.Tick("rejected", 0)
		s.logger.Warn().Float64("ts", ts).Float64("last_ts", last).Msg("tick rejected")
		return TickResult{}, fmt.Errorf("tick at %s: %w", at.UTC().Format(time.RFC3339Nano), ErrOutOfOrder)
	}
	s.lastTS, s.hasLast = ts, true
	s.inventory = copyCounts(counts)
	s.ticks++

	if err := s.freshness.Observe(ctx, counts, at); err != nil {
		s.storeErrors++
		s.metrics.SideEffectFailed("update_freshness")
		s.logger.Error().Err(err).Msg("failed to persist freshness")
	}

	result := TickResult{Sales: s.sales.ProcessSnapshot(counts, ts)}
	result.Alerts = s.alerts.Evaluate(counts, s.freshness.Snapshot(at), ts)

	s.metrics.ObserveSales(s.sales.Stats())
	s.metrics.ObserveAlerts(s.alerts.Stats())
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, counts, frameNumber, at); err != nil {
			s.mu.Lock()
			s.storeErrors++
			s.mu.Unlock()
			s.metrics.SideEffectFailed("save_snapshot")
			s.logger.Error().Err(err).Time("tick", at).Msg("failed to save snapshot")
		}
	}

	for _, ev := range result.Events() {
		s.metrics.ObserveEvent(ev)
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(ev)
		}
	}

	s.metrics.Tick("ok", time.Since(started).Seconds())
	s.logger.Debug().
		Time("tick", at).
		Int("sales", len(result.Sales)).
		Int("alerts", len(result.Alerts)).
		Msg("tick processed")
	return result, nil
}

// ActiveAlerts returns the unacknowledged alerts.
func (s *Service) ActiveAlerts() []event.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.ActiveAlerts()
}

// Acknowledge removes id from the active set and flags it in the alerts log.
func (s *Service) Acknowledge(ctx context.Context, id string) error {
	s.mu.Lock()
	inMemory := s.alerts.Acknowledge(id)
	s.mu.Unlock()

	acker, ok := s.store.(interface {
		AcknowledgeAlert(ctx context.Context, alertID string) error
	})
	if !ok {
		if !inMemory {
			return fmt.Errorf("%s: %w", id, ErrAlertNotFound)
		}
		return nil
	}

	err := acker.AcknowledgeAlert(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		if !inMemory {
			return fmt.Errorf("%s: %w", id, ErrAlertNotFound)
		}
		// the log write may still be queued in the dispatcher.
		s.logger.Warn().Str("alert_id", id).Msg("acknowledged alert missing from log")
	default:
		if !inMemory {
			return fmt.Errorf("acknowledge alert: %w", err)
		}
		s.logger.Error().Err(err).Str("alert_id", id).Msg("failed to flag alert as acknowledged")
	}
	s.logger.Info().Str("alert_id", id).Msg("alert acknowledged")
	return nil
}

// Freshness returns the tracked freshness records at now.
func (s *Service) Freshness(now time.Time) map[string]event.FreshnessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freshness.Snapshot(now)
}

// Stats returns engine and service counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Sales:        s.sales.Stats(),
		Alerts:       s.alerts.Stats(),
		Ticks:        s.ticks,
		Rejected:     s.rejected,
		SourceErrors: s.sourceErrors,
		StoreErrors:  s.storeErrors,
		Inventory:    copyCounts(s.inventory),
	}
	if s.hasLast {
		last := event.Time(s.lastTS)
		out.LastTick = &last
	}
	if s.dispatcher != nil {
		out.Dispatch = s.dispatcher.Stats()
	}
	return out
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
