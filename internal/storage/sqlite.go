package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"shelfwatch/internal/event"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// DefaultKeepRecent is the number of newest rows retention never deletes.
const DefaultKeepRecent = 100

// SQLiteStore implements Store on an embedded modernc.org/sqlite database.
// Timestamps are stored as REAL UNIX seconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the database at dsn, enables WAL and applies the schema.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Maintain deletes snapshots and alerts older than retention while always
// keeping the newest keepRecent rows of each table.
func (s *SQLiteStore) Maintain(ctx context.Context, retention time.Duration, keepRecent int) (CleanupResult, error) {
	if retention <= 0 {
		return CleanupResult{}, nil
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	cutoff := event.Timestamp(s.now().Add(-retention))

	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_snapshots
		WHERE timestamp_utc < ?
		AND id NOT IN (SELECT id FROM inventory_snapshots ORDER BY timestamp_utc DESC LIMIT ?)`, cutoff, keepRecent)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("trim snapshots: %w", err)
	}
	snapshots, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts_log
		WHERE timestamp_utc < ?
		AND id NOT IN (SELECT id FROM alerts_log ORDER BY timestamp_utc DESC LIMIT ?)`, cutoff, keepRecent); err != nil {
		return CleanupResult{}, fmt.Errorf("trim alerts: %w", err)
	}
	return CleanupResult{Snapshots: snapshots}, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, counts map[string]int, frameNumber int64, ts time.Time) error {
	payload, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO inventory_snapshots
		(timestamp_utc, frame_number, total_items, inventory_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.Timestamp(ts), frameNumber, totalItems(counts), string(payload), event.Timestamp(s.now()))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestInventory(ctx context.Context) (SnapshotRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, timestamp_utc, frame_number, total_items, inventory_json
		FROM inventory_snapshots ORDER BY timestamp_utc DESC, id DESC LIMIT 1`)
	rec, err := scanSQLiteSnapshot(row)
	if err == sql.ErrNoRows {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("latest inventory: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp_utc, frame_number, total_items, inventory_json
		FROM inventory_snapshots
		WHERE timestamp_utc >= ? AND timestamp_utc < ?
		ORDER BY timestamp_utc, id`, event.Timestamp(from), event.Timestamp(to))
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	defer rows.Close()

	out := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LogSale(ctx context.Context, sale event.Sale, localTime string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sales_log
		(id, timestamp_utc, timestamp_local, product_name, quantity_delta, inventory_before, inventory_after, attributed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sale.Timestamp, localTime, sale.Entity, sale.Quantity,
		sale.InventoryBefore, sale.InventoryAfter, sale.Attributed, event.Timestamp(s.now()))
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSales(ctx context.Context, q SaleQuery) ([]SaleRecord, error) {
	query := `SELECT id, timestamp_utc, timestamp_local, product_name, quantity_delta,
		COALESCE(inventory_before, 0), COALESCE(inventory_after, 0), attributed
		FROM sales_log WHERE 1=1`
	var args []any
	if q.Entity != "" {
		query += " AND product_name = ?"
		args = append(args, q.Entity)
	}
	if !q.From.IsZero() {
		query += " AND timestamp_utc >= ?"
		args = append(args, event.Timestamp(q.From))
	}
	if !q.To.IsZero() {
		query += " AND timestamp_utc < ?"
		args = append(args, event.Timestamp(q.To))
	}
	query += " ORDER BY timestamp_utc DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	out := make([]SaleRecord, 0)
	for rows.Next() {
		var (
			rec SaleRecord
			ts  float64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.LocalTime, &rec.Entity, &rec.Quantity,
			&rec.InventoryBefore, &rec.InventoryAfter, &rec.Attributed); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		rec.Timestamp = event.Time(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LogAlert(ctx context.Context, alert event.Alert, localTime string) error {
	metadata, err := alertMetadata(alert)
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts_log
		(id, alert_id, timestamp_utc, timestamp_local, alert_type, product_name, severity, message, metadata_json, acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), alert.ID(), alert.At(), localTime, string(alert.Kind()), alert.EntityName(),
		string(alert.Level()), alert.Message(), string(metadata), event.Timestamp(s.now()))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, q AlertQuery) ([]AlertRecord, error) {
	query := `SELECT id, alert_id, timestamp_utc, timestamp_local, alert_type, product_name, severity,
		message, COALESCE(metadata_json, ''), acknowledged
		FROM alerts_log WHERE 1=1`
	var args []any
	if q.Kind != "" {
		query += " AND alert_type = ?"
		args = append(args, string(q.Kind))
	}
	if q.Entity != "" {
		query += " AND product_name = ?"
		args = append(args, q.Entity)
	}
	if q.Acknowledged != nil {
		query += " AND acknowledged = ?"
		args = append(args, *q.Acknowledged)
	}
	query += " ORDER BY timestamp_utc DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]AlertRecord, 0)
	for rows.Next() {
		var (
			rec      AlertRecord
			ts       float64
			kind     string
			severity string
			metadata string
		)
		if err := rows.Scan(&rec.ID, &rec.AlertID, &ts, &rec.LocalTime, &kind, &rec.Entity,
			&severity, &rec.Message, &metadata, &rec.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		rec.Timestamp = event.Time(ts)
		rec.Kind = event.Kind(kind)
		rec.Severity = event.Severity(severity)
		if metadata != "" {
			rec.Metadata = json.RawMessage(metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts_log SET acknowledged = 1 WHERE alert_id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("acknowledge alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) UpdateFreshness(ctx context.Context, entity string, firstSeen, lastSeen time.Time, expirationDays int) error {
	record := event.FreshnessRecord{FirstSeen: firstSeen, ExpirationDays: expirationDays}.AsOf(lastSeen)
	_, err := s.db.ExecContext(ctx, `INSERT INTO product_freshness
		(product_name, first_seen_utc, last_seen_utc, is_expired, expiration_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_name) DO UPDATE SET
			last_seen_utc = excluded.last_seen_utc,
			is_expired = excluded.is_expired,
			updated_at = excluded.updated_at`,
		entity, event.Timestamp(firstSeen), event.Timestamp(lastSeen), record.IsExpired, expirationDays, event.Timestamp(s.now()))
	if err != nil {
		return fmt.Errorf("upsert freshness: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AllFreshness(ctx context.Context, now time.Time) ([]event.FreshnessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_name, first_seen_utc, last_seen_utc, expiration_days
		FROM product_freshness ORDER BY product_name`)
	if err != nil {
		return nil, fmt.Errorf("list freshness: %w", err)
	}
	defer rows.Close()

	out := make([]event.FreshnessRecord, 0)
	for rows.Next() {
		var (
			rec         event.FreshnessRecord
			first, last float64
		)
		if err := rows.Scan(&rec.Entity, &first, &last, &rec.ExpirationDays); err != nil {
			return nil, fmt.Errorf("scan freshness: %w", err)
		}
		rec.FirstSeen = event.Time(first)
		rec.LastSeen = event.Time(last)
		out = append(out, rec.AsOf(now))
	}
	return out, rows.Err()
}

// Cleanup removes snapshots and sales older than olderThan and freshness
// rows not seen since then.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (CleanupResult, error) {
	cutoff := event.Timestamp(olderThan)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	var result CleanupResult
	steps := []struct {
		query string
		dest  *int64
	}{
		{`DELETE FROM inventory_snapshots WHERE timestamp_utc < ?`, &result.Snapshots},
		{`DELETE FROM product_freshness WHERE last_seen_utc < ?`, &result.Freshness},
		{`DELETE FROM sales_log WHERE timestamp_utc < ?`, &result.Sales},
	}
	for _, step := range steps {
		res, err := tx.ExecContext(ctx, step.query, cutoff)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("cleanup: %w", err)
		}
		*step.dest, _ = res.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("commit cleanup: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Driver: DriverSQLite}
	counts := []struct {
		table string
		dest  *int64
	}{
		{"inventory_snapshots", &stats.Snapshots},
		{"product_freshness", &stats.Freshness},
		{"sales_log", &stats.Sales},
		{"alerts_log", &stats.Alerts},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row rowScanner) (SnapshotRecord, error) {
	var (
		rec     SnapshotRecord
		ts      float64
		payload string
	)
	if err := row.Scan(&rec.ID, &ts, &rec.FrameNumber, &rec.TotalItems, &payload); err != nil {
		return SnapshotRecord{}, err
	}
	rec.Timestamp = event.Time(ts)
	if err := json.Unmarshal([]byte(payload), &rec.Counts); err != nil {
		return SnapshotRecord{}, fmt.Errorf("decode inventory json: %w", err)
	}
	return rec, nil
}

var _ Store = (*SQLiteStore)(nil)
