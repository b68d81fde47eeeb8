package debounce

import (
	"time"

	"shelfwatch/internal/event"
)

type cooldownKey struct {
	kind   event.Kind
	entity string
}

// Cooldown spaces repeated emissions of the same (kind, entity) key.
// Callers check Allow first and call RecordEmission only once an event is
// actually emitted.
type Cooldown struct {
	window     float64
	last       map[cooldownKey]float64
	suppressed int
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window.Seconds(),
		last:   make(map[cooldownKey]float64),
	}
}

// Allow reports whether an event for the key may be emitted at now.
// A refusal is counted as a suppression.
func (c *Cooldown) Allow(kind event.Kind, entity string, now float64) bool {
	last, ok := c.last[cooldownKey{kind: kind, entity: entity}]
	if !ok || now-last >= c.window {
		return true
	}
	c.suppressed++
	return false
}

func (c *Cooldown) RecordEmission(kind event.Kind, entity string, now float64) {
	c.last[cooldownKey{kind: kind, entity: entity}] = now
}

// Suppressed returns how many Allow calls were refused.
func (c *Cooldown) Suppressed() int { return c.suppressed }

// Active counts keys still inside their window at now.
func (c *Cooldown) Active(now float64) int {
	n := 0
	for _, last := range c.last {
		if now-last < c.window {
			n++
		}
	}
	return n
}

func (c *Cooldown) Reset() {
	c.last = make(map[cooldownKey]float64)
	c.suppressed = 0
}
