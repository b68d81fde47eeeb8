package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertIdentifiers(t *testing.T) {
	low := LowStock{Entity: "mango", CurrentCount: 1, Threshold: 3, Severity: SeverityWarning, Timestamp: 1700000005.7}
	assert.Equal(t, "low_stock_mango_1700000005", low.ID())
	assert.Equal(t, "Low stock alert: mango count is 1 (threshold: 3)", low.Message())
	assert.Equal(t, SeverityWarning, low.Level())

	exp := Expiration{Entity: "pineapple", AgeDays: 5.26, ExpirationDays: 5, Timestamp: 1700000010}
	assert.Equal(t, "expiration_pineapple_1700000010", exp.ID())
	assert.Equal(t, "Expiration alert: pineapple has expired (5.3 days old)", exp.Message())
	assert.Equal(t, SeverityWarning, exp.Level())
}

func TestKinds(t *testing.T) {
	events := []Event{Sale{Entity: "a"}, LowStock{Entity: "b"}, Expiration{Entity: "c"}}
	kinds := make([]Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []Kind{KindSale, KindLowStock, KindExpiration}, kinds)
}

func TestSnapshotTotal(t *testing.T) {
	s := Snapshot{Counts: map[string]int{"mango": 3, "watermelon": 2}}
	assert.Equal(t, 5, s.Total())
	assert.Zero(t, Snapshot{}.Total())
}

func TestTimeConversion(t *testing.T) {
	ref := time.Date(2025, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	ts := Timestamp(ref)
	assert.InDelta(t, 1740830400.5, ts, 1e-6)
	assert.WithinDuration(t, ref, Time(ts), time.Microsecond)
}

func TestFreshnessAsOf(t *testing.T) {
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := FreshnessRecord{Entity: "mango", FirstSeen: first, ExpirationDays: 5}

	atLimit := r.AsOf(first.Add(5 * 24 * time.Hour))
	assert.Equal(t, 5.0, atLimit.AgeDays)
	assert.False(t, atLimit.IsExpired)

	past := r.AsOf(first.Add(5*24*time.Hour + time.Hour))
	assert.True(t, past.IsExpired)
	assert.InDelta(t, 5.0417, past.AgeDays, 1e-3)
}
