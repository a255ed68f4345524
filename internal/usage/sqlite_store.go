package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_periods (
	user_id                TEXT    NOT NULL,
	id                     TEXT    NOT NULL,
	period_date            INTEGER NOT NULL,
	total_usage_minutes    REAL    NOT NULL DEFAULT 0,
	delivery_usage_minutes REAL    NOT NULL DEFAULT 0,
	storage_usage_minutes  REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_usage_periods_user_date ON usage_periods (user_id, period_date);
`

// SQLiteStore stores usage records in a local SQLite database. It has no
// replica, so UseReplica reads go to the same database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stats reports connection pool usage for metrics.
func (s *SQLiteStore) Stats() (total, idle, inUse int32) {
	st := s.db.Stats()
	return int32(st.OpenConnections), int32(st.Idle), int32(st.InUse)
}

// Get retrieves a single record by user and period ID.
func (s *SQLiteStore) Get(ctx context.Context, userID, id string) (*Record, error) {
	return getSQLite(ctx, s.db, userID, id)
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, rec Record) error {
	return createSQLite(ctx, s.db, rec)
}

// Replace overwrites every field of an existing record.
func (s *SQLiteStore) Replace(ctx context.Context, rec Record) error {
	return replaceSQLite(ctx, s.db, rec)
}

// Upsert creates or replaces a record with a single INSERT ... ON CONFLICT
// statement. The existence check shares its transaction so created is exact.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM usage_periods WHERE user_id = ? AND id = ?)`,
		rec.UserID, rec.ID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("upserting usage record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_periods (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, id) DO UPDATE SET
		     period_date = excluded.period_date,
		     total_usage_minutes = excluded.total_usage_minutes,
		     delivery_usage_minutes = excluded.delivery_usage_minutes,
		     storage_usage_minutes = excluded.storage_usage_minutes`,
		sqliteArgs(rec)...,
	); err != nil {
		return false, fmt.Errorf("upserting usage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing upsert: %w", err)
	}
	return !exists, nil
}

// Find returns records matching f, ordered by period date.
func (s *SQLiteStore) Find(ctx context.Context, f Filter, opts FindOptions) ([]Record, error) {
	var conditions []string
	var args []any

	if f.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "period_date >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "period_date <= ?")
		args = append(args, f.To.UnixMilli())
	}

	query := `SELECT ` + recordColumns + ` FROM usage_periods`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if opts.Order == OrderDesc {
		query += " ORDER BY period_date DESC, id DESC"
	} else {
		query += " ORDER BY period_date ASC, id ASC"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding usage records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage records: %w", err)
	}
	return records, nil
}

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLite(ctx context.Context, db sqlExecutor, userID, id string) (*Record, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM usage_periods WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting usage record: %w", err)
	}
	return rec, nil
}

func createSQLite(ctx context.Context, db sqlExecutor, rec Record) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO usage_periods (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, id) DO NOTHING`,
		sqliteArgs(rec)...,
	)
	if err != nil {
		return fmt.Errorf("creating usage record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating usage record: %w", err)
	}
	if n == 0 {
		return ErrRecordExists
	}
	return nil
}

func replaceSQLite(ctx context.Context, db sqlExecutor, rec Record) error {
	res, err := db.ExecContext(ctx,
		`UPDATE usage_periods
		 SET period_date = ?, total_usage_minutes = ?, delivery_usage_minutes = ?,
		     storage_usage_minutes = ?
		 WHERE user_id = ? AND id = ?`,
		rec.Date.UnixMilli(), rec.TotalUsageMinutes, rec.DeliveryUsageMinutes,
		rec.StorageUsageMinutes, rec.UserID, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("replacing usage record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replacing usage record: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func sqliteArgs(rec Record) []any {
	return []any{
		rec.UserID,
		rec.ID,
		rec.Date.UnixMilli(),
		rec.TotalUsageMinutes,
		rec.DeliveryUsageMinutes,
		rec.StorageUsageMinutes,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	var rec Record
	var date int64
	if err := row.Scan(
		&rec.UserID, &rec.ID, &date,
		&rec.TotalUsageMinutes, &rec.DeliveryUsageMinutes, &rec.StorageUsageMinutes,
	); err != nil {
		return nil, err
	}
	rec.Date = time.UnixMilli(date).UTC()
	return &rec, nil
}
