package freshness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shelfwatch/internal/event"
)

// Store persists freshness records.
type Store interface {
	UpdateFreshness(ctx context.Context, entity string, firstSeen, lastSeen time.Time, expirationDays int) error
	AllFreshness(ctx context.Context, now time.Time) ([]event.FreshnessRecord, error)
}

// Options configure the tracker.
type Options struct {
	ExpirationDays int
	// Tracked limits tracking to entities whose name contains one of the
	// listed fragments (case-insensitive). Empty tracks everything.
	Tracked []string
}

// Tracker records when each entity was first and last seen on the shelf.
type Tracker struct {
	opts    Options
	store   Store
	records map[string]event.FreshnessRecord
	logger  zerolog.Logger
}

// NewTracker builds a tracker. store may be nil.
func NewTracker(opts Options, store Store, logger zerolog.Logger) *Tracker {
	tracked := make([]string, 0, len(opts.Tracked))
	for _, t := range opts.Tracked {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tracked = append(tracked, t)
		}
	}
	opts.Tracked = tracked
	return &Tracker{
		opts:    opts,
		store:   store,
		records: make(map[string]event.FreshnessRecord),
		logger:  logger.With().Str("component", "freshness").Logger(),
	}
}

// Restore loads persisted records so first-seen survives restarts.
func (t *Tracker) Restore(ctx context.Context, now time.Time) error {
	if t.store == nil {
		return nil
	}
	records, err := t.store.AllFreshness(ctx, now)
	if err != nil {
		return fmt.Errorf("restore freshness: %w", err)
	}
	for _, r := range records {
		t.records[r.Entity] = r
	}
	t.logger.Info().Int("entities", len(records)).Msg("freshness restored")
	return nil
}

// Observe updates last-seen for every entity with a positive count and
// starts tracking entities seen for the first time. Store failures are
// returned joined but never undo the in-memory update.
func (t *Tracker) Observe(ctx context.Context, counts map[string]int, now time.Time) error {
	var errs []error
	for _, entity := range sortedEntities(counts) {
		if counts[entity] <= 0 || !t.isTracked(entity) {
			continue
		}
		record, ok := t.records[entity]
		if !ok {
			record = event.FreshnessRecord{
				Entity:         entity,
				FirstSeen:      now,
				ExpirationDays: t.opts.ExpirationDays,
			}
			t.logger.Info().Str("entity", entity).Msg("started freshness tracking")
		}
		record.LastSeen = now
		t.records[entity] = record

		if t.store != nil {
			if err := t.store.UpdateFreshness(ctx, entity, record.FirstSeen, now, record.ExpirationDays); err != nil {
				errs = append(errs, fmt.Errorf("update freshness %s: %w", entity, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns every tracked record evaluated at now.
func (t *Tracker) Snapshot(now time.Time) map[string]event.FreshnessRecord {
	out := make(map[string]event.FreshnessRecord, len(t.records))
	for entity, r := range t.records {
		out[entity] = r.AsOf(now)
	}
	return out
}

func (t *Tracker) isTracked(entity string) bool {
	if len(t.opts.Tracked) == 0 {
		return true
	}
	name := strings.ToLower(entity)
	for _, fragment := range t.opts.Tracked {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}

func sortedEntities(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for k := range counts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
