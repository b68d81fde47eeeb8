package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shelfwatch/internal/event"
)

var (
	// ErrNoReading is returned when no counts have been received yet.
	ErrNoReading = errors.New("no inventory reading available")
	// ErrStale is returned when the latest reading is older than the allowed age.
	ErrStale = errors.New("inventory reading is stale")
	// ErrInvalidReading marks payloads rejected by validation.
	ErrInvalidReading = errors.New("invalid inventory reading")
)

// Reading is one set of per-entity counts reported by the detector.
type Reading struct {
	Counts      map[string]int
	FrameNumber int64
	ObservedAt  time.Time
}

// Source supplies the current counts once per tick.
type Source interface {
	Read(ctx context.Context) (Reading, error)
}

// Payload is the JSON shape shared by the ingest API and the detector endpoint.
type Payload struct {
	Counts      map[string]int `json:"counts"`
	FrameNumber int64          `json:"frame_number"`
	Timestamp   float64        `json:"timestamp,omitempty"`
}

// Reading validates p. A zero timestamp means now.
func (p Payload) Reading(now time.Time) (Reading, error) {
	if p.Counts == nil {
		return Reading{}, fmt.Errorf("%w: counts missing", ErrInvalidReading)
	}
	counts := make(map[string]int, len(p.Counts))
	for name, c := range p.Counts {
		name = strings.TrimSpace(name)
		if name == "" {
			return Reading{}, fmt.Errorf("%w: empty entity name", ErrInvalidReading)
		}
		if c < 0 {
			return Reading{}, fmt.Errorf("%w: negative count %d for %s", ErrInvalidReading, c, name)
		}
		counts[name] = c
	}
	observed := now
	if p.Timestamp > 0 {
		observed = event.Time(p.Timestamp)
	}
	return Reading{Counts: counts, FrameNumber: p.FrameNumber, ObservedAt: observed}, nil
}

// Push keeps the latest reading submitted through the ingest API.
type Push struct {
	mu       sync.Mutex
	latest   Reading
	received time.Time
	has      bool
	maxAge   time.Duration
	now      func() time.Time
}

// NewPush returns a push source. maxAge <= 0 disables staleness checks.
func NewPush(maxAge time.Duration) *Push {
	return &Push{maxAge: maxAge, now: time.Now}
}

// Submit replaces the latest reading.
func (p *Push) Submit(r Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = r
	p.received = p.now()
	p.has = true
}

func (p *Push) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has {
		return Reading{}, ErrNoReading
	}
	if p.maxAge > 0 && p.now().Sub(p.received) > p.maxAge {
		return Reading{}, fmt.Errorf("%w: last push at %s", ErrStale, p.received.UTC().Format(time.RFC3339))
	}
	out := p.latest
	out.Counts = cloneCounts(p.latest.Counts)
	return out, nil
}

func cloneCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Source = (*Push)(nil)
