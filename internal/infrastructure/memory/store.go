// Package memory provides mutex-guarded in-process implementations of the
// catalog, aggregation and event log stores, used for tests and dry runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/eventlog"
)

// Store bundles one of each in-memory repository.
type Store struct {
	Items     *ItemRepository
	Providers *ProviderRepository
	Buckets   *BucketStore
	Events    *EventStore
	Leases    *LeaseStore
}

// New creates an empty store.
func New() *Store {
	return &Store{
		Items:     NewItemRepository(),
		Providers: NewProviderRepository(),
		Buckets:   NewBucketStore(),
		Events:    NewEventStore(),
		Leases:    NewLeaseStore(),
	}
}

// ItemRepository implements catalog.ItemRepository in memory
type ItemRepository struct {
	mu    sync.RWMutex
	items map[string]*catalog.Item
}

var _ catalog.ItemRepository = (*ItemRepository)(nil)

// NewItemRepository creates an empty item repository.
func NewItemRepository() *ItemRepository {
	return &ItemRepository{items: make(map[string]*catalog.Item)}
}

func (r *ItemRepository) Get(_ context.Context, itemID string) (*catalog.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	return item.Clone(), nil
}

func (r *ItemRepository) Put(_ context.Context, item *catalog.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ItemID] = item.Clone()
	return nil
}

func (r *ItemRepository) ListPendingDetail(_ context.Context) ([]*catalog.Item, error) {
	return r.list(func(it *catalog.Item) bool { return !it.Meta.HasDetail }), nil
}

func (r *ItemRepository) ListForAggregation(_ context.Context, aggregate string, requireDetail bool) ([]*catalog.Item, error) {
	return r.list(func(it *catalog.Item) bool {
		if requireDetail && !it.Meta.HasDetail {
			return false
		}
		return !it.Meta.HasAggregated(aggregate)
	}), nil
}

func (r *ItemRepository) MarkAggregated(_ context.Context, itemID, aggregate string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return catalog.ErrItemNotFound
	}
	item.Meta.MarkAggregated(aggregate)
	return nil
}

// Len returns the number of stored items.
func (r *ItemRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *ItemRepository) list(match func(*catalog.Item) bool) []*catalog.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*catalog.Item, 0)
	for _, it := range r.items {
		if match(it) {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// ProviderRepository implements catalog.ProviderRepository in memory
type ProviderRepository struct {
	mu        sync.RWMutex
	providers map[string]*catalog.Provider
}

var _ catalog.ProviderRepository = (*ProviderRepository)(nil)

// NewProviderRepository creates an empty provider repository.
func NewProviderRepository() *ProviderRepository {
	return &ProviderRepository{providers: make(map[string]*catalog.Provider)}
}

func (r *ProviderRepository) Get(_ context.Context, providerID string) (*catalog.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, catalog.ErrProviderNotFound
	}
	return cloneProvider(p), nil
}

func (r *ProviderRepository) Put(_ context.Context, provider *catalog.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cloneProvider(provider)
	if existing, ok := r.providers[provider.ID]; ok {
		c.LastSync = existing.LastSync
	}
	r.providers[provider.ID] = c
	return nil
}

func (r *ProviderRepository) List(_ context.Context) ([]*catalog.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*catalog.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, cloneProvider(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProviderRepository) SaveRunSummary(_ context.Context, providerID string, summary catalog.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[providerID]
	if !ok {
		return catalog.ErrProviderNotFound
	}
	s := summary
	s.ErrorPayload = slices.Clone(summary.ErrorPayload)
	p.LastSync = &s
	return nil
}

func cloneProvider(p *catalog.Provider) *catalog.Provider {
	c := *p
	cfg := p.RequestConfig()
	c.Headers = cfg.Headers
	if p.LastSync != nil {
		s := *p.LastSync
		c.LastSync = &s
	}
	return &c
}

// BucketStore implements aggregation.BucketStore in memory
type BucketStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]*aggregation.Bucket
	// beforeSwap runs inside Swap before the version check. Tests use it
	// to interleave a competing writer.
	beforeSwap func(aggregate, key string)
}

var _ aggregation.BucketStore = (*BucketStore)(nil)

// NewBucketStore creates an empty bucket store.
func NewBucketStore() *BucketStore {
	return &BucketStore{buckets: make(map[string]map[string]*aggregation.Bucket)}
}

// OnSwap registers a callback run at the start of every Swap, outside the lock.
func (s *BucketStore) OnSwap(fn func(aggregate, key string)) {
	s.beforeSwap = fn
}

func (s *BucketStore) Get(_ context.Context, aggregate, key string) (*aggregation.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[aggregate][key]
	if !ok {
		return nil, aggregation.ErrBucketNotFound
	}
	return b.Clone(), nil
}

func (s *BucketStore) Swap(_ context.Context, aggregate string, bucket *aggregation.Bucket, expectedVersion int64) error {
	if hook := s.beforeSwap; hook != nil {
		hook(aggregate, bucket.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.buckets[aggregate]
	if !ok {
		agg = make(map[string]*aggregation.Bucket)
		s.buckets[aggregate] = agg
	}

	var current int64
	if existing, ok := agg[bucket.Key]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return aggregation.ErrConflict
	}

	bucket.Version = expectedVersion + 1
	agg[bucket.Key] = bucket.Clone()
	return nil
}

func (s *BucketStore) List(_ context.Context, aggregate string) ([]*aggregation.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*aggregation.Bucket, 0, len(s.buckets[aggregate]))
	for _, b := range s.buckets[aggregate] {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// EventStore implements eventlog.EventStore in memory
type EventStore struct {
	mu     sync.Mutex
	events map[string]*eventlog.Event
}

var _ eventlog.EventStore = (*EventStore)(nil)

// NewEventStore creates an empty event store.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string]*eventlog.Event)}
}

func (s *EventStore) Append(_ context.Context, ev *eventlog.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return false, nil
	}
	s.events[ev.ID] = cloneEvent(ev)
	return true, nil
}

func (s *EventStore) Get(_ context.Context, eventID string) (*eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, eventlog.ErrEventNotFound
	}
	return cloneEvent(ev), nil
}

func (s *EventStore) ListUnconsumed(_ context.Context, consumer string, limit int) ([]*eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*eventlog.Event, 0)
	for _, ev := range s.events {
		if !ev.HasConsumer(consumer) {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EventStore) MarkConsumed(_ context.Context, eventID, consumer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return eventlog.ErrEventNotFound
	}
	if !ev.HasConsumer(consumer) {
		ev.Consumers = append(ev.Consumers, consumer)
	}
	return nil
}

func cloneEvent(ev *eventlog.Event) *eventlog.Event {
	c := *ev
	c.Item = ev.Item.Clone()
	c.Consumers = slices.Clone(ev.Consumers)
	return &c
}

// LeaseStore implements eventlog.LeaseStore in memory
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]*eventlog.Lease
}

var _ eventlog.LeaseStore = (*LeaseStore)(nil)

// NewLeaseStore creates an empty lease store.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[string]*eventlog.Lease)}
}

func (s *LeaseStore) Acquire(_ context.Context, key, owner string, ttl time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[key]; ok {
		if l.Done {
			return eventlog.ErrLeaseDone
		}
		if now.Before(l.Expiry) && l.Owner != owner {
			return eventlog.ErrLeaseHeld
		}
	}
	s.leases[key] = &eventlog.Lease{Key: key, Owner: owner, Expiry: now.Add(ttl)}
	return nil
}

func (s *LeaseStore) Complete(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[key]
	if !ok || l.Owner != owner {
		return eventlog.ErrLeaseLost
	}
	l.Done = true
	return nil
}
