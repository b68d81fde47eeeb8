package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/event"
	"shelfwatch/internal/metrics"
)

type memoryLog struct {
	mu     sync.Mutex
	sales  []event.Sale
	alerts []event.Alert
	times  []string
	err    error
}

func (m *memoryLog) LogSale(_ context.Context, sale event.Sale, localTime string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sales = append(m.sales, sale)
	m.times = append(m.times, localTime)
	return nil
}

func (m *memoryLog) LogAlert(_ context.Context, alert event.Alert, localTime string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.alerts = append(m.alerts, alert)
	m.times = append(m.times, localTime)
	return nil
}

var (
	testSale  = event.Sale{Entity: "mango", Quantity: 1, InventoryBefore: 5, InventoryAfter: 4, Timestamp: 1746100800, Attributed: true}
	testAlert = event.LowStock{Entity: "mango", CurrentCount: 0, Threshold: 3, Severity: event.SeverityCritical, Timestamp: 1746100800}
)

func TestDispatcherHandleRoutesEvents(t *testing.T) {
	log := &memoryLog{}
	notifier := &recordingNotifier{}
	d := NewDispatcher(DispatcherOptions{}, log, notifier, nil, zerolog.Nop())

	d.Handle(context.Background(), testSale)
	d.Handle(context.Background(), testAlert)

	assert.Len(t, log.sales, 1)
	assert.Len(t, log.alerts, 1)
	assert.Equal(t, []string{"2025-05-01 12:00:00 PM UTC", "2025-05-01 12:00:00 PM UTC"}, log.times)
	// sales are logged but only alerts notify by default.
	require.Len(t, notifier.events(), 1)
	assert.Equal(t, event.KindLowStock, notifier.events()[0].Kind())
	assert.Equal(t, int64(2), d.Stats().Handled)
}

func TestDispatcherCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := &memoryLog{err: errors.New("disk full")}
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(DispatcherOptions{NotifySales: true}, log, notifier, m, zerolog.Nop())

	d.Handle(context.Background(), testSale)
	d.Handle(context.Background(), testAlert)

	stats := d.Stats()
	assert.Equal(t, int64(4), stats.Failures)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("log_sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("log_alert")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("notify")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{QueueSize: 1}, &memoryLog{}, nil, nil, zerolog.Nop())

	assert.True(t, d.Dispatch(testSale))
	assert.False(t, d.Dispatch(testAlert))
	assert.Equal(t, int64(1), d.Stats().Dropped)
	assert.Equal(t, 1, d.Stats().Queued)

	d.Close()
	assert.Equal(t, int64(1), d.Stats().Handled)
	assert.False(t, d.Dispatch(testSale))
	assert.Equal(t, int64(2), d.Stats().Dropped)
	d.Close()
}

func TestDispatcherCloseDrainsRunningWorker(t *testing.T) {
	log := &memoryLog{}
	d := NewDispatcher(DispatcherOptions{QueueSize: 16}, log, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		sale := testSale
		sale.Timestamp += float64(i)
		require.True(t, d.Dispatch(sale))
	}
	cancel()
	d.Close()
	<-done

	assert.Len(t, log.sales, 5)
	assert.Equal(t, int64(5), d.Stats().Handled)
}
