package notifications

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationNotificationState is the SQL DDL for the notification_state
// table. It is safe to execute multiple times (uses IF NOT EXISTS). The
// migrate command runs it as a versioned migration step.
const MigrationNotificationState = `
CREATE TABLE IF NOT EXISTS notification_state (
    owner_id   TEXT NOT NULL,
    bucket     TEXT NOT NULL,
    entry_id   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, bucket, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_notification_state_owner
    ON notification_state (owner_id, bucket);
`

// ---------------------------------------------------------------------------
// pgRow / pgRows / pgConn abstractions (allow unit testing without a real DB)
// ---------------------------------------------------------------------------

// pgRow represents a single row returned by QueryRow.
type pgRow interface {
	Scan(dest ...any) error
}

// pgRows represents a row set returned by Query.
type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// pgConn is the minimal database interface required by PGStateStore. Both
// *pgxpool.Pool (via a thin adapter) and test mocks implement this.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Query(ctx context.Context, sql string, args ...any) (pgRows, error)
	Exec(ctx context.Context, sql string, args ...any) error
}

// ---------------------------------------------------------------------------
// PGStateStore
// ---------------------------------------------------------------------------

// PGStateStore is a PostgreSQL-backed StateStore. It keeps the overlay in a
// single notification_state table keyed by (owner, bucket, entry), so marks
// survive restarts and are shared across portal replicas.
type PGStateStore struct {
	db pgConn
}

// NewPGStateStore creates a PG-backed store. The db parameter must satisfy
// the pgConn interface -- use NewPGStateStoreFromPool to wrap a
// *pgxpool.Pool, or pass a mock in tests.
func NewPGStateStore(db pgConn) *PGStateStore {
	return &PGStateStore{db: db}
}

// Get implements StateStore.
func (s *PGStateStore) Get(ctx context.Context, ownerID, bucket string) (map[string]bool, error) {
	const query = `SELECT entry_id FROM notification_state
WHERE owner_id = $1 AND bucket = $2`

	rows, err := s.db.Query(ctx, query, ownerID, bucket)
	if err != nil {
		return nil, fmt.Errorf("get overlay bucket: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan overlay entry: %w", err)
		}
		set[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read overlay bucket: %w", err)
	}
	return set, nil
}

// Add implements StateStore. Existing entries are left untouched so the
// original created_at is kept.
func (s *PGStateStore) Add(ctx context.Context, ownerID, bucket string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	const query = `INSERT INTO notification_state (owner_id, bucket, entry_id)
SELECT $1, $2, unnest($3::text[])
ON CONFLICT (owner_id, bucket, entry_id) DO NOTHING`

	if err := s.db.Exec(ctx, query, ownerID, bucket, ids); err != nil {
		return fmt.Errorf("add overlay entries: %w", err)
	}
	return nil
}

// Remove implements StateStore.
func (s *PGStateStore) Remove(ctx context.Context, ownerID, bucket string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	const query = `DELETE FROM notification_state
WHERE owner_id = $1 AND bucket = $2 AND entry_id = ANY($3::text[])`

	if err := s.db.Exec(ctx, query, ownerID, bucket, ids); err != nil {
		return fmt.Errorf("remove overlay entries: %w", err)
	}
	return nil
}

// Count implements StateStore.
func (s *PGStateStore) Count(ctx context.Context) (int, error) {
	const query = `SELECT count(*) FROM notification_state`

	var n int
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count overlay entries: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// pgxPoolWrapper adapts *pgxpool.Pool to the pgConn interface
// ---------------------------------------------------------------------------

// pgxPoolWrapper wraps a *pgxpool.Pool so it satisfies the pgConn interface.
// The adapter is necessary because pgxpool.Pool.Exec returns
// (pgconn.CommandTag, error) whereas pgConn.Exec returns only error.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return w.pool.QueryRow(ctx, sql, args...)
}

func (w *pgxPoolWrapper) Query(ctx context.Context, sql string, args ...any) (pgRows, error) {
	rows, err := w.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.pool.Exec(ctx, sql, args...)
	return err
}

// NewPGStateStoreFromPool creates a PG-backed store directly from a
// *pgxpool.Pool. This is the recommended constructor for production use.
func NewPGStateStoreFromPool(pool *pgxpool.Pool) *PGStateStore {
	return &PGStateStore{db: &pgxPoolWrapper{pool: pool}}
}
