package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shelfwatch/internal/event"
)

//go:embed postgres_schema.sql
var postgresSchema string

const (
	insertSnapshotSQL = `INSERT INTO inventory_snapshots (
        observed_at,
        frame_number,
        total_items,
        inventory
    ) VALUES ($1,$2,$3,$4);`

	latestSnapshotSQL = `SELECT id, observed_at, frame_number, total_items, inventory
    FROM inventory_snapshots
    ORDER BY observed_at DESC, id DESC
    LIMIT 1;`

	listSnapshotsBetweenSQL = `SELECT id, observed_at, frame_number, total_items, inventory
    FROM inventory_snapshots
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at, id;`

	insertSaleSQL = `INSERT INTO sales_log (
        id,
        sold_at,
        local_time,
        product_name,
        quantity,
        inventory_before,
        inventory_after,
        attributed
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	insertAlertSQL = `INSERT INTO alerts_log (
        id,
        alert_id,
        raised_at,
        local_time,
        alert_type,
        product_name,
        severity,
        message,
        metadata
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	acknowledgeAlertSQL = `UPDATE alerts_log SET acknowledged = TRUE WHERE alert_id = $1;`

	upsertFreshnessSQL = `INSERT INTO product_freshness (
        product_name,
        first_seen,
        last_seen,
        is_expired,
        expiration_days
    ) VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (product_name) DO UPDATE
    SET
        last_seen  = EXCLUDED.last_seen,
        is_expired = EXCLUDED.is_expired,
        updated_at = now();`

	listFreshnessSQL = `SELECT product_name, first_seen, last_seen, expiration_days
    FROM product_freshness
    ORDER BY product_name;`

	deleteSnapshotsBeforeSQL = `DELETE FROM inventory_snapshots WHERE observed_at < $1;`
	deleteFreshnessBeforeSQL = `DELETE FROM product_freshness WHERE last_seen < $1;`
	deleteSalesBeforeSQL     = `DELETE FROM sales_log WHERE sold_at < $1;`

	countRowsSQL = `SELECT
        (SELECT COUNT(*) FROM inventory_snapshots),
        (SELECT COUNT(*) FROM product_freshness),
        (SELECT COUNT(*) FROM sales_log),
        (SELECT COUNT(*) FROM alerts_log);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DB is the subset of *pgxpool.Pool the Postgres store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool DB
}

// NewPostgres wires a pgx pool into a PostgresStore.
func NewPostgres(pool DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the conn is recycled.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (DB, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, counts map[string]int, frameNumber int64, ts time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}
	if _, err := pool.Exec(ctx, insertSnapshotSQL, ts.UTC(), frameNumber, totalItems(counts), payload); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestInventory(ctx context.Context) (SnapshotRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	rows, err := pool.Query(ctx, latestSnapshotSQL)
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("latest inventory: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return SnapshotRecord{}, false, rows.Err()
	}
	rec, err := scanPostgresSnapshot(rows)
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSnapshotsBetweenSQL, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	defer rows.Close()

	out := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, err := scanPostgresSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) LogSale(ctx context.Context, sale event.Sale, localTime string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, insertSaleSQL,
		uuid.NewString(),
		event.Time(sale.Timestamp),
		localTime,
		sale.Entity,
		sale.Quantity,
		sale.InventoryBefore,
		sale.InventoryAfter,
		sale.Attributed,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSales(ctx context.Context, q SaleQuery) ([]SaleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var where filter
	if q.Entity != "" {
		where.add("product_name = %s", q.Entity)
	}
	if !q.From.IsZero() {
		where.add("sold_at >= %s", q.From.UTC())
	}
	if !q.To.IsZero() {
		where.add("sold_at < %s", q.To.UTC())
	}
	query := `SELECT id::text, sold_at, local_time, product_name, quantity, inventory_before, inventory_after, attributed
    FROM sales_log` + where.clause() + " ORDER BY sold_at DESC" + where.limit(q.Limit) + ";"

	rows, err := pool.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	out := make([]SaleRecord, 0)
	for rows.Next() {
		var rec SaleRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.LocalTime, &rec.Entity, &rec.Quantity,
			&rec.InventoryBefore, &rec.InventoryAfter, &rec.Attributed); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) LogAlert(ctx context.Context, alert event.Alert, localTime string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	metadata, err := alertMetadata(alert)
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}
	_, err = pool.Exec(ctx, insertAlertSQL,
		uuid.NewString(),
		alert.ID(),
		event.Time(alert.At()),
		localTime,
		string(alert.Kind()),
		alert.EntityName(),
		string(alert.Level()),
		alert.Message(),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, q AlertQuery) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var where filter
	if q.Kind != "" {
		where.add("alert_type = %s", string(q.Kind))
	}
	if q.Entity != "" {
		where.add("product_name = %s", q.Entity)
	}
	if q.Acknowledged != nil {
		where.add("acknowledged = %s", *q.Acknowledged)
	}
	query := `SELECT id::text, alert_id, raised_at, local_time, alert_type, product_name, severity, message, metadata, acknowledged
    FROM alerts_log` + where.clause() + " ORDER BY raised_at DESC" + where.limit(q.Limit) + ";"

	rows, err := pool.Query(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]AlertRecord, 0)
	for rows.Next() {
		var (
			rec      AlertRecord
			kind     string
			severity string
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Timestamp, &rec.LocalTime, &kind, &rec.Entity,
			&severity, &rec.Message, &metadata, &rec.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		rec.Kind = event.Kind(kind)
		rec.Severity = event.Severity(severity)
		if len(metadata) > 0 {
			rec.Metadata = json.RawMessage(metadata)
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, alertID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, acknowledgeAlertSQL, alertID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("acknowledge alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateFreshness(ctx context.Context, entity string, firstSeen, lastSeen time.Time, expirationDays int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	record := event.FreshnessRecord{FirstSeen: firstSeen, ExpirationDays: expirationDays}.AsOf(lastSeen)
	if _, err := pool.Exec(ctx, upsertFreshnessSQL, entity, firstSeen.UTC(), lastSeen.UTC(), record.IsExpired, expirationDays); err != nil {
		return fmt.Errorf("upsert freshness: %w", err)
	}
	return nil
}

func (s *PostgresStore) AllFreshness(ctx context.Context, now time.Time) ([]event.FreshnessRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listFreshnessSQL)
	if err != nil {
		return nil, fmt.Errorf("list freshness: %w", err)
	}
	defer rows.Close()

	out := make([]event.FreshnessRecord, 0)
	for rows.Next() {
		var rec event.FreshnessRecord
		if err := rows.Scan(&rec.Entity, &rec.FirstSeen, &rec.LastSeen, &rec.ExpirationDays); err != nil {
			return nil, fmt.Errorf("scan freshness: %w", err)
		}
		out = append(out, rec.AsOf(now))
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Time) (CleanupResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return CleanupResult{}, err
	}
	var result CleanupResult
	steps := []struct {
		query string
		dest  *int64
	}{
		{deleteSnapshotsBeforeSQL, &result.Snapshots},
		{deleteFreshnessBeforeSQL, &result.Freshness},
		{deleteSalesBeforeSQL, &result.Sales},
	}
	for _, step := range steps {
		tag, err := pool.Exec(ctx, step.query, olderThan.UTC())
		if err != nil {
			return CleanupResult{}, fmt.Errorf("cleanup: %w", err)
		}
		*step.dest = tag.RowsAffected()
	}
	return result, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	pool, err := s.getPool()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Driver: DriverPostgres}
	if err := pool.QueryRow(ctx, countRowsSQL).Scan(&stats.Snapshots, &stats.Freshness, &stats.Sales, &stats.Alerts); err != nil {
		return Stats{}, fmt.Errorf("count rows: %w", err)
	}
	return stats, nil
}

func scanPostgresSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		rec     SnapshotRecord
		payload []byte
	)
	if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.FrameNumber, &rec.TotalItems, &payload); err != nil {
		return SnapshotRecord{}, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Counts); err != nil {
		return SnapshotRecord{}, fmt.Errorf("decode inventory json: %w", err)
	}
	return rec, nil
}

// filter accumulates WHERE conditions with positional placeholders.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(f.args))))
}

func (f *filter) clause() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func (f *filter) limit(n int) string {
	if n <= 0 {
		return ""
	}
	f.args = append(f.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(f.args))
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
