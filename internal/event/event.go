package event

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies the variant of a confirmed event.
type Kind string

const (
	KindSale       Kind = "sale"
	KindLowStock   Kind = "low_stock"
	KindExpiration Kind = "expiration"
)

// Severity grades alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// UnknownEntity names sales that could not be attributed to a single entity.
const UnknownEntity = "Unknown"

// Snapshot is one timestamped reading of every tracked entity.
type Snapshot struct {
	Timestamp float64        `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
}

// Total sums all counts of the snapshot.
func (s Snapshot) Total() int {
	total := 0
	for _, c := range s.Counts {
		total += c
	}
	return total
}

// Event is a confirmed, deduplicated business event. The set of
// implementations is closed: Sale, LowStock and Expiration.
type Event interface {
	Kind() Kind
	EntityName() string
	At() float64
	sealed()
}

// Alert is an Event that is kept in the active set until acknowledged.
type Alert interface {
	Event
	ID() string
	Level() Severity
	Message() string
}

// Sale is a confirmed inventory decrease.
type Sale struct {
	Entity          string  `json:"entity"`
	Quantity        int     `json:"quantity"`
	InventoryBefore int     `json:"inventory_before"`
	InventoryAfter  int     `json:"inventory_after"`
	Timestamp       float64 `json:"timestamp"`
	Attributed      bool    `json:"attributed"`
}

func (Sale) Kind() Kind { return KindSale }
func (s Sale) EntityName() string { return s.Entity }
func (s Sale) At() float64 { return s.Timestamp }
func (Sale) sealed() {}

// LowStock fires when a count stays at or below its threshold.
type LowStock struct {
	Entity       string   `json:"entity"`
	CurrentCount int      `json:"current_count"`
	Threshold    int      `json:"threshold"`
	Severity     Severity `json:"severity"`
	Timestamp    float64  `json:"timestamp"`
}

func (LowStock) Kind() Kind { return KindLowStock }
func (a LowStock) EntityName() string { return a.Entity }
func (a LowStock) At() float64 { return a.Timestamp }
func (LowStock) sealed() {}
func (a LowStock) ID() string { return alertID(KindLowStock, a.Entity, a.Timestamp) }
func (a LowStock) Level() Severity { return a.Severity }

func (a LowStock) Message() string {
	return fmt.Sprintf("Low stock alert: %s count is %d (threshold: %d)", a.Entity, a.CurrentCount, a.Threshold)
}

// Expiration fires when an entity has been on the shelf longer than allowed.
type Expiration struct {
	Entity         string    `json:"entity"`
	AgeDays        float64   `json:"age_days"`
	ExpirationDays int       `json:"expiration_days"`
	FirstSeen      time.Time `json:"first_seen"`
	Timestamp      float64   `json:"timestamp"`
}

func (Expiration) Kind() Kind { return KindExpiration }
func (a Expiration) EntityName() string { return a.Entity }
func (a Expiration) At() float64 { return a.Timestamp }
func (Expiration) sealed() {}
func (a Expiration) ID() string { return alertID(KindExpiration, a.Entity, a.Timestamp) }
func (Expiration) Level() Severity { return SeverityWarning }

func (a Expiration) Message() string {
	return fmt.Sprintf("Expiration alert: %s has expired (%.1f days old)", a.Entity, a.AgeDays)
}

func alertID(kind Kind, entity string, ts float64) string {
	return fmt.Sprintf("%s_%s_%d", kind, entity, int64(ts))
}

// FreshnessRecord tracks how long an entity has been observed.
type FreshnessRecord struct {
	Entity         string    `json:"entity"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	ExpirationDays int       `json:"expiration_days"`
	IsExpired      bool      `json:"is_expired"`
	AgeDays        float64   `json:"age_days"`
}

const secondsPerDay = 86400

// AsOf recomputes age and expiry of r at now. An entity expires once its
// age exceeds ExpirationDays.
func (r FreshnessRecord) AsOf(now time.Time) FreshnessRecord {
	r.AgeDays = now.Sub(r.FirstSeen).Seconds() / secondsPerDay
	r.IsExpired = r.AgeDays > float64(r.ExpirationDays)
	return r
}

// Time converts a UNIX seconds timestamp into UTC time.
func Time(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Timestamp converts t into fractional UNIX seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

var (
	_ Event = Sale{}
	_ Alert = LowStock{}
	_ Alert = Expiration{}
)
