package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"catalogsync/internal/domain/catalog"
)

// DefaultMaxAttempts bounds the compare-and-swap retries for one bucket.
const DefaultMaxAttempts = 8

var (
	aggTracer               = otel.Tracer("catalogsync/aggregation")
	aggMeter                = otel.Meter("catalogsync/aggregation")
	contributionsCounter, _ = aggMeter.Int64Counter("aggregation.contributions.total", metric.WithDescription("Item contributions folded into buckets"))
	conflictsCounter, _     = aggMeter.Int64Counter("aggregation.conflicts.total", metric.WithDescription("Bucket compare-and-swap conflicts"))
	ledgerSkipCounter, _    = aggMeter.Int64Counter("aggregation.skipped.total", metric.WithDescription("Contributions skipped because the source was already in the ledger"))
)

// Engine runs aggregate definitions against the canonical store.
type Engine struct {
	items       catalog.ItemRepository
	buckets     BucketStore
	defs        map[string]Definition
	maxAttempts int
	now         func() time.Time
}

// NewEngine creates an engine for the given definitions.
func NewEngine(items catalog.ItemRepository, buckets BucketStore, defs ...Definition) *Engine {
	e := &Engine{
		items:       items,
		buckets:     buckets,
		defs:        make(map[string]Definition, len(defs)),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, d := range defs {
		if d.Source == nil {
			d.Source = ItemID
		}
		e.defs[d.Name] = d
	}
	return e
}

// SetMaxAttempts overrides the per-bucket retry bound.
func (e *Engine) SetMaxAttempts(n int) {
	if n > 0 {
		e.maxAttempts = n
	}
}

// Definition returns the named definition.
func (e *Engine) Definition(name string) (Definition, bool) {
	d, ok := e.defs[name]
	return d, ok
}

// Names returns the registered aggregate names in order.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.defs))
	for n := range e.defs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Run folds every item not yet marked for the named aggregate, then marks it.
// Items are processed one at a time. A failed item stops the run and stays
// unmarked so the next run picks it up again.
func (e *Engine) Run(ctx context.Context, name string) (*RunResult, error) {
	def, ok := e.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregate, name)
	}

	ctx, span := aggTracer.Start(ctx, "aggregation.run",
		trace.WithAttributes(attribute.String("aggregate", name)))
	defer span.End()

	start := e.now()
	result := &RunResult{Aggregate: name, StartedAt: start}

	items, err := e.items.ListForAggregation(ctx, name, def.RequireDetail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("failed to list items for %s: %w", name, err)
	}
	result.Scanned = len(items)

	for _, item := range items {
		fr, err := e.Fold(ctx, def, item)
		result.Folded += fr.Folded
		result.Skipped += fr.Skipped
		result.Conflicts += fr.Conflicts
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fold failed")
			result.Duration = time.Since(start).String()
			return result, fmt.Errorf("failed to fold item %s into %s: %w", item.ItemID, name, err)
		}

		if err := e.items.MarkAggregated(ctx, item.ItemID, name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mark failed")
			result.Duration = time.Since(start).String()
			return result, fmt.Errorf("failed to mark item %s aggregated for %s: %w", item.ItemID, name, err)
		}
		result.Marked++
	}

	result.Duration = time.Since(start).String()
	span.SetAttributes(
		attribute.Int("items.scanned", result.Scanned),
		attribute.Int("contributions.folded", result.Folded),
		attribute.Int("contributions.skipped", result.Skipped),
	)
	log.Printf("Aggregate %s: scanned %d items, folded %d, skipped %d, conflicts %d",
		name, result.Scanned, result.Folded, result.Skipped, result.Conflicts)
	return result, nil
}

// Fold applies every contribution of item to def's buckets. It does not
// touch the item's aggregation markers, so the event log can share it.
func (e *Engine) Fold(ctx context.Context, def Definition, item *catalog.Item) (FoldResult, error) {
	var total FoldResult
	source := def.Source
	if source == nil {
		source = ItemID
	}
	src := source(item)
	if src == "" {
		return total, fmt.Errorf("item %q has no source identity", item.ItemID)
	}

	for _, c := range def.Contributions(item) {
		fr, err := e.Contribute(ctx, def.Name, src, c)
		total.add(fr)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Contribute folds one contribution into its bucket unless source is already
// in the bucket's ledger. The ledger check and the append are committed by a
// single compare-and-swap, retried on conflict up to the attempt bound.
func (e *Engine) Contribute(ctx context.Context, aggregate, source string, c Contribution) (FoldResult, error) {
	var fr FoldResult
	attrs := metric.WithAttributes(attribute.String("aggregate", aggregate))

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		current, err := e.buckets.Get(ctx, aggregate, c.Key)
		if err != nil && !errors.Is(err, ErrBucketNotFound) {
			return fr, fmt.Errorf("failed to load bucket %s/%s: %w", aggregate, c.Key, err)
		}

		var next *Bucket
		var expected int64
		if current == nil {
			next = &Bucket{Key: c.Key, Name: c.Key}
			if c.Seed != nil {
				c.Seed(next)
			}
		} else {
			if current.HasSource(source) {
				fr.Skipped++
				ledgerSkipCounter.Add(ctx, 1, attrs)
				return fr, nil
			}
			expected = current.Version
			next = current.Clone()
			if c.Fold != nil {
				c.Fold(next)
			}
		}
		next.Key = c.Key
		next.Sources = append(next.Sources, source)
		next.Count = len(next.Sources)
		next.UpdatedAt = e.now().UTC()

		err = e.buckets.Swap(ctx, aggregate, next, expected)
		if err == nil {
			fr.Folded++
			contributionsCounter.Add(ctx, 1, attrs)
			return fr, nil
		}
		if !errors.Is(err, ErrConflict) {
			return fr, fmt.Errorf("failed to write bucket %s/%s: %w", aggregate, c.Key, err)
		}

		fr.Conflicts++
		conflictsCounter.Add(ctx, 1, attrs)
		if err := ctx.Err(); err != nil {
			return fr, err
		}
	}

	return fr, fmt.Errorf("%w: bucket %s/%s after %d attempts", ErrRetriesExhausted, aggregate, c.Key, e.maxAttempts)
}
