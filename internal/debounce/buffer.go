package debounce

import "sort"

// Observation is one pending entry of an entity's confirmation queue.
// Baseline is the reference the condition is measured against: the count
// before the decrease for sales, the threshold for low stock.
type Observation struct {
	Timestamp float64
	Value     int
	Baseline  int
}

// ContradictFunc reports whether obs invalidates the episode started by first.
type ContradictFunc func(first, obs Observation) bool

// SaleContradiction treats any count above the first decreased value, or a
// return to the pre-decrease count, as "not a persistent decrease".
func SaleContradiction(first, obs Observation) bool {
	return obs.Value > first.Value || obs.Value == first.Baseline
}

// ThresholdContradiction rejects observations above the threshold.
func ThresholdContradiction(first, obs Observation) bool {
	return obs.Value > first.Baseline
}

// Buffer keeps a bounded queue of observations per entity and decides
// whether a candidate condition has persisted long enough.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	capacity    int
	contradicts ContradictFunc
	queues      map[string]*Ring[Observation]
}

// NewBuffer returns a buffer whose queues hold confirmIntervals+1 entries.
// A nil contradicts means no observation contradicts another.
func NewBuffer(confirmIntervals int, contradicts ContradictFunc) *Buffer {
	if confirmIntervals < 1 {
		confirmIntervals = 1
	}
	return &Buffer{
		capacity:    confirmIntervals + 1,
		contradicts: contradicts,
		queues:      make(map[string]*Ring[Observation]),
	}
}

// Record appends obs to the entity's queue, dropping the oldest entry on overflow.
func (b *Buffer) Record(entity string, obs Observation) {
	q, ok := b.queues[entity]
	if !ok {
		q = NewRing[Observation](b.capacity)
		b.queues[entity] = q
	}
	q.Push(obs)
}

func (b *Buffer) Has(entity string) bool {
	_, ok := b.queues[entity]
	return ok
}

func (b *Buffer) Len(entity string) int {
	if q, ok := b.queues[entity]; ok {
		return q.Len()
	}
	return 0
}

// First returns the earliest pending observation of entity.
func (b *Buffer) First(entity string) (Observation, bool) {
	q, ok := b.queues[entity]
	if !ok {
		return Observation{}, false
	}
	return q.First()
}

// Observations returns a copy of the entity's queue, oldest first.
func (b *Buffer) Observations(entity string) []Observation {
	q, ok := b.queues[entity]
	if !ok {
		return nil
	}
	return q.Items()
}

// IsConfirmed reports whether entity holds at least confirmIntervals
// observations and none of them contradicts the earliest.
func (b *Buffer) IsConfirmed(entity string, confirmIntervals int) bool {
	q, ok := b.queues[entity]
	if !ok || q.Len() < confirmIntervals {
		return false
	}
	if b.contradicts == nil {
		return true
	}
	first, _ := q.First()
	for i := 1; i < q.Len(); i++ {
		if b.contradicts(first, q.At(i)) {
			return false
		}
	}
	return true
}

func (b *Buffer) Clear(entity string) {
	delete(b.queues, entity)
}

// PruneStale drops observations with now-ts >= maxAge and removes queues
// left empty. It returns the number of dropped observations.
func (b *Buffer) PruneStale(now, maxAge float64) int {
	dropped := 0
	for entity, q := range b.queues {
		for {
			first, ok := q.First()
			if !ok || now-first.Timestamp < maxAge {
				break
			}
			q.PopFront()
			dropped++
		}
		if q.Len() == 0 {
			delete(b.queues, entity)
		}
	}
	return dropped
}

// Pending counts observations across all entities.
func (b *Buffer) Pending() int {
	total := 0
	for _, q := range b.queues {
		total += q.Len()
	}
	return total
}

// Entities lists entities with a pending queue in sorted order.
func (b *Buffer) Entities() []string {
	out := make([]string, 0, len(b.queues))
	for entity := range b.queues {
		out = append(out, entity)
	}
	sort.Strings(out)
	return out
}

func (b *Buffer) Reset() {
	b.queues = make(map[string]*Ring[Observation])
}
