package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"catalogsync/internal/domain/aggregation"
)

// BucketStore implements aggregation.BucketStore with a version column
// compare-and-swap.
type BucketStore struct {
	db *DB
}

var _ aggregation.BucketStore = (*BucketStore)(nil)

// NewBucketStore creates a new PostgreSQL bucket store
func NewBucketStore(db *DB) *BucketStore {
	return &BucketStore{db: db}
}

func (s *BucketStore) Get(ctx context.Context, aggregate, key string) (*aggregation.Bucket, error) {
	query := `SELECT document, version FROM aggregate_buckets WHERE aggregate = $1 AND key = $2`

	var doc []byte
	var version int64
	err := s.db.QueryRowContext(ctx, query, aggregate, key).Scan(&doc, &version)
	if isNoRows(err) {
		return nil, aggregation.ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return decodeBucket(doc, version)
}

// Swap inserts the bucket when expectedVersion is 0, otherwise updates it
// only while the stored version still matches. Zero affected rows is a
// lost race.
func (s *BucketStore) Swap(ctx context.Context, aggregate string, bucket *aggregation.Bucket, expectedVersion int64) error {
	next := *bucket
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal bucket: %w", err)
	}

	var query string
	var args []any
	if expectedVersion == 0 {
		query = `
			INSERT INTO aggregate_buckets (aggregate, key, version, document, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (aggregate, key) DO NOTHING
		`
		args = []any{aggregate, bucket.Key, next.Version, doc}
	} else {
		query = `
			UPDATE aggregate_buckets
			SET version = $3, document = $4, updated_at = now()
			WHERE aggregate = $1 AND key = $2 AND version = $5
		`
		args = []any{aggregate, bucket.Key, next.Version, doc, expectedVersion}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to swap bucket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return aggregation.ErrConflict
	}

	bucket.Version = next.Version
	return nil
}

func (s *BucketStore) List(ctx context.Context, aggregate string) ([]*aggregation.Bucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document, version FROM aggregate_buckets WHERE aggregate = $1 ORDER BY key`, aggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []*aggregation.Bucket
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		b, err := decodeBucket(doc, version)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate buckets: %w", err)
	}
	return buckets, nil
}

func decodeBucket(doc []byte, version int64) (*aggregation.Bucket, error) {
	var b aggregation.Bucket
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bucket: %w", err)
	}
	b.Version = version
	return &b, nil
}
