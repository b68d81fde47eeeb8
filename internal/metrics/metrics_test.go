package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/alerts"
	"shelfwatch/internal/event"
	"shelfwatch/internal/sales"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvent(event.Sale{Entity: "mango"})
	m.ObserveEvent(event.Sale{Entity: "kiwi"})
	m.ObserveEvent(event.LowStock{Entity: "mango"})
	m.ObserveSales(sales.Stats{PendingValidations: 3, SuppressedByCooldown: 2, EntitiesOnCooldown: 1, FalsePositivesFiltered: 5})
	m.ObserveAlerts(alerts.Stats{PendingLowStock: 1, PendingExpiration: 2, ActiveAlerts: 4})
	m.SideEffectFailed("log_sale")
	m.Dropped()
	m.Tick("ok", 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("low_stock")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pending.WithLabelValues("sales")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pending.WithLabelValues("alerts")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.falsePositives))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeAlerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("log_sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks.WithLabelValues("ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(event.Sale{})
	m.ObserveSales(sales.Stats{})
	m.ObserveAlerts(alerts.Stats{})
	m.SideEffectFailed("x")
	m.Dropped()
	m.Tick("ok", 1)
}
