package freshness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/event"
)

type memoryStore struct {
	updates []string
	records []event.FreshnessRecord
	err     error
}

func (m *memoryStore) UpdateFreshness(_ context.Context, entity string, _, _ time.Time, _ int) error {
	m.updates = append(m.updates, entity)
	return m.err
}

func (m *memoryStore) AllFreshness(_ context.Context, now time.Time) ([]event.FreshnessRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]event.FreshnessRecord, len(m.records))
	for i, r := range m.records {
		out[i] = r.AsOf(now)
	}
	return out, nil
}

func TestObserveTracksFirstAndLastSeen(t *testing.T) {
	store := &memoryStore{}
	tr := NewTracker(Options{ExpirationDays: 5}, store, zerolog.Nop())
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, tr.Observe(context.Background(), map[string]int{"mango": 2, "kiwi": 0}, start))
	require.NoError(t, tr.Observe(context.Background(), map[string]int{"mango": 1}, start.Add(time.Hour)))

	snap := tr.Snapshot(start.Add(6 * 24 * time.Hour))
	require.Contains(t, snap, "mango")
	assert.NotContains(t, snap, "kiwi")

	mango := snap["mango"]
	assert.Equal(t, start, mango.FirstSeen)
	assert.Equal(t, start.Add(time.Hour), mango.LastSeen)
	assert.True(t, mango.IsExpired)
	assert.Equal(t, 6.0, mango.AgeDays)
	assert.Equal(t, []string{"mango", "mango"}, store.updates)
}

func TestObserveHonoursTrackedFilter(t *testing.T) {
	tr := NewTracker(Options{ExpirationDays: 5, Tracked: []string{" Mango "}}, nil, zerolog.Nop())
	now := time.Now()
	require.NoError(t, tr.Observe(context.Background(), map[string]int{"Mango Chunks": 1, "lemon cake": 3}, now))

	snap := tr.Snapshot(now)
	assert.Contains(t, snap, "Mango Chunks")
	assert.NotContains(t, snap, "lemon cake")
}

func TestObserveReportsStoreErrors(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	tr := NewTracker(Options{ExpirationDays: 5}, store, zerolog.Nop())
	now := time.Now()

	err := tr.Observe(context.Background(), map[string]int{"mango": 1}, now)
	require.Error(t, err)
	assert.Contains(t, tr.Snapshot(now), "mango")
}

func TestRestore(t *testing.T) {
	first := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &memoryStore{records: []event.FreshnessRecord{{Entity: "pineapple", FirstSeen: first, LastSeen: first, ExpirationDays: 2}}}
	tr := NewTracker(Options{ExpirationDays: 5}, store, zerolog.Nop())

	require.NoError(t, tr.Restore(context.Background(), first.Add(time.Hour)))
	require.NoError(t, tr.Observe(context.Background(), map[string]int{"pineapple": 1}, first.Add(72*time.Hour)))

	snap := tr.Snapshot(first.Add(72 * time.Hour))
	assert.Equal(t, first, snap["pineapple"].FirstSeen)
	assert.Equal(t, 2, snap["pineapple"].ExpirationDays)
	assert.True(t, snap["pineapple"].IsExpired)
}

func TestRestoreWithoutStore(t *testing.T) {
	tr := NewTracker(Options{ExpirationDays: 5}, nil, zerolog.Nop())
	assert.NoError(t, tr.Restore(context.Background(), time.Now()))
}
