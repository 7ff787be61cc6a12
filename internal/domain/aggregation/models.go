// Package aggregation folds canonical items into named rollup buckets,
// counting each contributing item exactly once per bucket.
package aggregation

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// Domain errors
var (
	// ErrConflict is returned by BucketStore.Swap when the stored version
	// no longer matches the expected one.
	ErrConflict = errors.New("aggregation conflict")

	ErrBucketNotFound   = errors.New("bucket not found")
	ErrUnknownAggregate = errors.New("unknown aggregate")
	ErrRetriesExhausted = errors.New("bucket update retries exhausted")
)

// Bucket is one rollup document of an aggregate, keyed by its grouping value.
// Count always equals len(Sources).
type Bucket struct {
	Key       string            `json:"key"`
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Count     int               `json:"productCount"`
	Values    []string          `json:"values,omitempty"`
	Sources   []string          `json:"sources"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// HasSource reports whether source is already in the bucket's ledger.
func (b *Bucket) HasSource(source string) bool {
	return slices.Contains(b.Sources, source)
}

// AddValue records v in the bucket's distinct value set.
func (b *Bucket) AddValue(v string) {
	if v == "" || slices.Contains(b.Values, v) {
		return
	}
	b.Values = append(b.Values, v)
}

// SetLabel sets a label, allocating the map on first use.
func (b *Bucket) SetLabel(k, v string) {
	if b.Labels == nil {
		b.Labels = make(map[string]string)
	}
	b.Labels[k] = v
}

// Clone returns a deep copy.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}
	c := *b
	c.Labels = maps.Clone(b.Labels)
	c.Values = slices.Clone(b.Values)
	c.Sources = slices.Clone(b.Sources)
	return &c
}

// BucketStore is the atomic storage primitive for bucket documents.
type BucketStore interface {
	// Get returns ErrBucketNotFound when the bucket does not exist.
	Get(ctx context.Context, aggregate, key string) (*Bucket, error)

	// Swap writes bucket if the stored version equals expectedVersion. An
	// expectedVersion of 0 means the bucket must not exist yet. On success
	// bucket.Version is set to expectedVersion+1; on a lost race Swap
	// returns ErrConflict and writes nothing.
	Swap(ctx context.Context, aggregate string, bucket *Bucket, expectedVersion int64) error

	// List returns every bucket of an aggregate ordered by key.
	List(ctx context.Context, aggregate string) ([]*Bucket, error)
}

// RunResult summarizes one aggregation run.
type RunResult struct {
	Aggregate string    `json:"aggregate"`
	Scanned   int       `json:"scanned"`
	Folded    int       `json:"folded"`
	Skipped   int       `json:"skipped"`
	Marked    int       `json:"marked"`
	Conflicts int       `json:"conflicts"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}

// FoldResult counts what one item did to an aggregate.
type FoldResult struct {
	Folded    int
	Skipped   int
	Conflicts int
}

func (r *FoldResult) add(o FoldResult) {
	r.Folded += o.Folded
	r.Skipped += o.Skipped
	r.Conflicts += o.Conflicts
}
