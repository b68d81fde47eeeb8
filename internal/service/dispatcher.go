package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"shelfwatch/internal/alerting"
	"shelfwatch/internal/event"
	"shelfwatch/internal/metrics"
)

// EventLog is the part of the store the dispatcher writes to.
type EventLog interface {
	LogSale(ctx context.Context, sale event.Sale, localTime string) error
	LogAlert(ctx context.Context, alert event.Alert, localTime string) error
}

// DispatcherOptions tune the side-effect worker.
type DispatcherOptions struct {
	QueueSize   int
	Timeout     time.Duration
	Location    *time.Location
	NotifySales bool
}

// DispatchStats reports side-effect counters.
type DispatchStats struct {
	Handled  int64 `json:"handled"`
	Dropped  int64 `json:"dropped"`
	Failures int64 `json:"failures"`
	Queued   int   `json:"queued"`
}

// Dispatcher persists and notifies confirmed events off the tick path.
type Dispatcher struct {
	opts     DispatcherOptions
	log      EventLog
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.RWMutex
	queue   chan event.Event
	closed  bool
	started atomic.Bool
	done    chan struct{}

	handled  atomic.Int64
	dropped  atomic.Int64
	failures atomic.Int64
}

// NewDispatcher builds a dispatcher. log, notifier and m may be nil.
func NewDispatcher(opts DispatcherOptions, log EventLog, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Dispatcher{
		opts:     opts,
		log:      log,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		queue:    make(chan event.Event, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Run handles queued events until Close is called. Cancelling ctx does not
// abandon queued events; they are still handled with a detached context.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	defer close(d.done)
	base := context.WithoutCancel(ctx)
	for ev := range d.queue {
		d.Handle(base, ev)
	}
}

// Dispatch queues ev without blocking. It reports false when the event was
// dropped because the queue is full or closed.
func (d *Dispatcher) Dispatch(ev event.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.drop(ev, "dispatch queue full")
		return false
	}
}

func (d *Dispatcher) drop(ev event.Event, reason string) {
	d.dropped.Add(1)
	d.metrics.Dropped()
	d.logger.Error().
		Str("kind", string(ev.Kind())).
		Str("entity", ev.EntityName()).
		Msg(reason)
}

// Handle persists ev and sends its notification synchronously.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	localTime := alerting.FormatLocal(event.Time(ev.At()), d.opts.Location)
	notify := true

	switch e := ev.(type) {
	case event.Sale:
		notify = d.opts.NotifySales
		if d.log != nil {
			if err := d.log.LogSale(ctx, e, localTime); err != nil {
				d.fail("log_sale", ev, err)
			}
		}
	case event.Alert:
		if d.log != nil {
			if err := d.log.LogAlert(ctx, e, localTime); err != nil {
				d.fail("log_alert", ev, err)
			}
		}
	}

	if notify && d.notifier != nil {
		if err := d.notifier.Send(ctx, ev, localTime); err != nil {
			d.fail("notify", ev, err)
		}
	}
	d.handled.Add(1)
}

func (d *Dispatcher) fail(op string, ev event.Event, err error) {
	d.failures.Add(1)
	d.metrics.SideEffectFailed(op)
	d.logger.Error().Err(err).
		Str("op", op).
		Str("kind", string(ev.Kind())).
		Str("entity", ev.EntityName()).
		Msg("side effect failed")
}

// Close stops accepting events and returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if d.started.CompareAndSwap(false, true) {
		// Run was never started; drain here.
		for ev := range d.queue {
			d.Handle(context.Background(), ev)
		}
		close(d.done)
		return
	}
	<-d.done
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Handled:  d.handled.Load(),
		Dropped:  d.dropped.Load(),
		Failures: d.failures.Load(),
		Queued:   len(d.queue),
	}
}
