package storage

import (
	"encoding/json"
	"time"

	"shelfwatch/internal/event"
)

// SnapshotRecord is a persisted inventory reading.
type SnapshotRecord struct {
	ID          int64          `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	FrameNumber int64          `json:"frame_number"`
	TotalItems  int            `json:"total_items"`
	Counts      map[string]int `json:"counts"`
}

// SaleRecord is a row of the sales log.
type SaleRecord struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	LocalTime       string    `json:"local_time"`
	Entity          string    `json:"entity"`
	Quantity        int       `json:"quantity"`
	InventoryBefore int       `json:"inventory_before"`
	InventoryAfter  int       `json:"inventory_after"`
	Attributed      bool      `json:"attributed"`
}

// AlertRecord is a row of the alerts log. AlertID is the engine-side
// identifier (kind_entity_timestamp).
type AlertRecord struct {
	ID           string          `json:"id"`
	AlertID      string          `json:"alert_id"`
	Timestamp    time.Time       `json:"timestamp"`
	LocalTime    string          `json:"local_time"`
	Kind         event.Kind      `json:"kind"`
	Entity       string          `json:"entity"`
	Severity     event.Severity  `json:"severity"`
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Acknowledged bool            `json:"acknowledged"`
}

// SaleQuery filters the sales log. Zero values mean no filter.
type SaleQuery struct {
	Limit  int
	Entity string
	From   time.Time
	To     time.Time
}

// AlertQuery filters the alerts log. Zero values mean no filter.
type AlertQuery struct {
	Limit        int
	Kind         event.Kind
	Entity       string
	Acknowledged *bool
}

// CleanupResult reports rows removed by a cleanup run.
type CleanupResult struct {
	Snapshots int64 `json:"snapshots"`
	Freshness int64 `json:"freshness"`
	Sales     int64 `json:"sales"`
}

// Stats summarises table sizes.
type Stats struct {
	Driver    string `json:"driver"`
	Snapshots int64  `json:"snapshots"`
	Freshness int64  `json:"freshness"`
	Sales     int64  `json:"sales"`
	Alerts    int64  `json:"alerts"`
}

func totalItems(counts map[string]int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

func alertMetadata(alert event.Alert) ([]byte, error) {
	return json.Marshal(alert)
}
