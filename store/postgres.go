package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a Postgres table. The conditional
// update is a single UPDATE ... WHERE <condition> RETURNING statement, so
// the check and the write are atomic under the row lock. The secondary
// index is a btree on (value, update_time).
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	closed atomic.Bool
}

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	// Pool is the pgx connection pool to use.
	Pool *pgxpool.Pool

	// Table is the table name. Default: "trackkit_tasks".
	Table string
}

// NewPostgresStore creates a Postgres-backed store and runs its schema
// migration.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("postgres store: nil pool")
	}
	table := cfg.Table
	if table == "" {
		table = "trackkit_tasks"
	}
	s := &PostgresStore{pool: cfg.Pool, table: table}

	_, err := cfg.Pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			status INTEGER NOT NULL,
			retry INTEGER NOT NULL DEFAULT 0,
			"lock" TEXT NOT NULL,
			lock_time TIMESTAMPTZ NOT NULL,
			create_time TIMESTAMPTZ NOT NULL,
			update_time TIMESTAMPTZ NOT NULL,
			data JSONB,
			errors JSONB
		);
		CREATE INDEX IF NOT EXISTS %s_value_update_time
			ON %s (value, update_time);
	`, table, table, table))
	if err != nil {
		return nil, fmt.Errorf("postgres store: migrate %s: %w", table, err)
	}
	return s, nil
}

const pgColumns = `key, value, status, retry, "lock", lock_time, create_time, update_time, data, errors`

func scanPGRecord(row pgx.Row) (*Record, error) {
	var r Record
	var data, errs []byte
	err := row.Scan(
		&r.Key, &r.Value, &r.Status, &r.Retry, &r.Lock,
		&r.LockTime, &r.CreateTime, &r.UpdateTime, &data, &errs,
	)
	if err != nil {
		return nil, err
	}
	if data != nil {
		r.Data = json.RawMessage(data)
	}
	if errs != nil {
		r.Errors = json.RawMessage(errs)
	}
	return &r, nil
}

// Put creates or replaces a record unconditionally.
func (s *PostgresStore) Put(ctx context.Context, r *Record) error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			status = EXCLUDED.status,
			retry = EXCLUDED.retry,
			"lock" = EXCLUDED."lock",
			lock_time = EXCLUDED.lock_time,
			create_time = EXCLUDED.create_time,
			update_time = EXCLUDED.update_time,
			data = EXCLUDED.data,
			errors = EXCLUDED.errors
	`, s.table, pgColumns),
		r.Key, r.Value, r.Status, r.Retry, r.Lock,
		r.LockTime, r.CreateTime, r.UpdateTime, []byte(r.Data), []byte(r.Errors))
	if err != nil {
		return fmt.Errorf("postgres store: put %s: %w", r.Key, err)
	}
	return nil
}

// Get retrieves a record by key.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE key = $1
	`, pgColumns, s.table), key)
	r, err := scanPGRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", key, err)
	}
	return r, nil
}

// Update applies the mutation iff the condition holds. Nil mutation
// fields pass NULL and COALESCE away; nil condition clauses pass NULL and
// short-circuit true, keeping the statement static.
func (s *PostgresStore) Update(ctx context.Context, key string, m Mutation, c Condition) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var statusIn []int32
	for _, code := range c.StatusIn {
		statusIn = append(statusIn, int32(code))
	}
	var acqToken *string
	var acqStale *time.Time
	if c.Acquire != nil {
		acqToken = &c.Acquire.Token
		acqStale = &c.Acquire.StaleBefore
	}
	var data, errs []byte
	if m.Data != nil {
		data = []byte(m.Data)
	}
	if m.Errors != nil {
		errs = []byte(m.Errors)
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET
			value = COALESCE($2, value),
			status = COALESCE($3, status),
			retry = COALESCE($4, retry),
			"lock" = COALESCE($5, "lock"),
			lock_time = COALESCE($6, lock_time),
			update_time = COALESCE($7, update_time),
			data = COALESCE($8, data),
			errors = COALESCE($9, errors)
		WHERE key = $1
			AND ($10::int[] IS NULL OR status = ANY($10))
			AND ($11::text IS NULL OR "lock" = $11)
			AND ($12::text IS NULL OR "lock" = '%s' OR "lock" = $12 OR lock_time < $13)
		RETURNING %s
	`, s.table, NotLocked, pgColumns),
		key, m.Value, m.Status, m.Retry, m.Lock, m.LockTime, m.UpdateTime,
		data, errs, statusIn, c.LockIs, acqToken, acqStale)

	r, err := scanPGRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the key is absent or the condition failed; one more read
		// disambiguates.
		var exists bool
		check := s.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT EXISTS (SELECT 1 FROM %s WHERE key = $1)
		`, s.table), key)
		if perr := check.Scan(&exists); perr != nil {
			return nil, fmt.Errorf("postgres store: update %s: %w", key, perr)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConditionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: update %s: %w", key, err)
	}
	return r, nil
}

// Query returns records whose value matches, ordered by update_time.
func (s *PostgresStore) Query(ctx context.Context, value string, order Order, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	dir := "ASC"
	if order == NewestFirst {
		dir = "DESC"
	}
	lim := "ALL"
	if limit > 0 {
		lim = fmt.Sprint(limit)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE value = $1
		ORDER BY update_time %s, key %s
		LIMIT %s
	`, pgColumns, s.table, dir, dir, lim), value)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query %s: %w", value, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanPGRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: query %s: %w", value, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: query %s: %w", value, err)
	}
	return out, nil
}

// Scan returns keys starting with prefix.
func (s *PostgresStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT key FROM %s WHERE starts_with(key, $1) ORDER BY key
	`, s.table), prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres store: scan %s: %w", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: scan %s: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE key = $1
	`, s.table), key)
	if err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", key, err)
	}
	return nil
}

// Close marks the store closed. The pool is owned by the caller and is
// not closed here.
func (s *PostgresStore) Close() error {
	s.closed.Store(true)
	return nil
}
