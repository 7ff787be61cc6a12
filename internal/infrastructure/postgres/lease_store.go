package postgres

import (
	"context"
	"fmt"
	"time"

	"catalogsync/internal/domain/eventlog"
)

// LeaseStore implements eventlog.LeaseStore. Acquisition is a single
// conditional upsert so two invocations can never both win.
type LeaseStore struct {
	db *DB
}

var _ eventlog.LeaseStore = (*LeaseStore)(nil)

// NewLeaseStore creates a new PostgreSQL lease store
func NewLeaseStore(db *DB) *LeaseStore {
	return &LeaseStore{db: db}
}

func (s *LeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) error {
	query := `
		INSERT INTO event_leases (key, owner, lease_expiry, done)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, lease_expiry = EXCLUDED.lease_expiry
		WHERE NOT event_leases.done
		  AND (event_leases.lease_expiry <= $4 OR event_leases.owner = EXCLUDED.owner)
		RETURNING key
	`
	var got string
	err := s.db.QueryRowContext(ctx, query, key, owner, now.Add(ttl), now).Scan(&got)
	if err == nil {
		return nil
	}
	if !isNoRows(err) {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}

	var done bool
	if err := s.db.QueryRowContext(ctx, `SELECT done FROM event_leases WHERE key = $1`, key).Scan(&done); err != nil {
		return fmt.Errorf("failed to read lease: %w", err)
	}
	if done {
		return eventlog.ErrLeaseDone
	}
	return eventlog.ErrLeaseHeld
}

func (s *LeaseStore) Complete(ctx context.Context, key, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_leases SET done = true WHERE key = $1 AND owner = $2`, key, owner)
	if err != nil {
		return fmt.Errorf("failed to complete lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return eventlog.ErrLeaseLost
	}
	return nil
}
