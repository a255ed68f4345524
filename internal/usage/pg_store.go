package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `user_id, id, period_date, total_usage_minutes,
	delivery_usage_minutes, storage_usage_minutes`

// PGStore stores usage records in Postgres. Reads that allow staleness go to
// the replica pool when one is configured.
type PGStore struct {
	pool    *pgxpool.Pool
	replica *pgxpool.Pool
}

// NewPGStore creates a store backed by the primary pool. replica may be nil.
func NewPGStore(pool, replica *pgxpool.Pool) *PGStore {
	if replica == nil {
		replica = pool
	}
	return &PGStore{pool: pool, replica: replica}
}

// Ping checks connectivity to the primary database.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get retrieves a single record by user and period ID.
func (s *PGStore) Get(ctx context.Context, userID, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM usage_periods WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting usage record: %w", err)
	}
	return rec, nil
}

// Create inserts a new record.
func (s *PGStore) Create(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_periods (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		recordArgs(rec)...,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRecordExists
		}
		return fmt.Errorf("creating usage record: %w", err)
	}
	return nil
}

// Replace overwrites every field of an existing record.
func (s *PGStore) Replace(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE usage_periods
		 SET period_date = $3, total_usage_minutes = $4, delivery_usage_minutes = $5,
		     storage_usage_minutes = $6
		 WHERE user_id = $1 AND id = $2`,
		recordArgs(rec)...,
	)
	if err != nil {
		return fmt.Errorf("replacing usage record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Upsert creates or replaces a record in a single statement. xmax is zero
// only for a freshly inserted row.
func (s *PGStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage_periods (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, id)
		 DO UPDATE SET period_date = EXCLUDED.period_date,
		     total_usage_minutes = EXCLUDED.total_usage_minutes,
		     delivery_usage_minutes = EXCLUDED.delivery_usage_minutes,
		     storage_usage_minutes = EXCLUDED.storage_usage_minutes
		 RETURNING (xmax = 0)`,
		recordArgs(rec)...,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upserting usage record: %w", err)
	}
	return created, nil
}

// Find returns records matching f, ordered by period date.
func (s *PGStore) Find(ctx context.Context, f Filter, opts FindOptions) ([]Record, error) {
	query, args := buildFindQuery(f, opts)

	db := s.pool
	if opts.UseReplica {
		db = s.replica
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding usage records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
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

// buildFindQuery constructs the SELECT for Find with positional arguments.
func buildFindQuery(f Filter, opts FindOptions) (string, []any) {
	var conditions []string
	var args []any

	if f.UserID != "" {
		args = append(args, f.UserID)
		conditions = append(conditions, "user_id = $"+strconv.Itoa(len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		conditions = append(conditions, "period_date >= $"+strconv.Itoa(len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		conditions = append(conditions, "period_date <= $"+strconv.Itoa(len(args)))
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
		args = append(args, opts.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	return query, args
}

func recordArgs(rec Record) []any {
	return []any{
		rec.UserID,
		rec.ID,
		rec.Date.UTC(),
		rec.TotalUsageMinutes,
		rec.DeliveryUsageMinutes,
		rec.StorageUsageMinutes,
	}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.UserID, &rec.ID, &rec.Date,
		&rec.TotalUsageMinutes, &rec.DeliveryUsageMinutes, &rec.StorageUsageMinutes,
	); err != nil {
		return nil, err
	}
	rec.Date = rec.Date.UTC()
	return &rec, nil
}
