package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/eventlog"
)

// Collection names
const (
	ItemsCollection     = "products"
	ProvidersCollection = "banks"
	EventsCollection    = "events"
	LeasesCollection    = "leases"
)

// Store implements the catalog, aggregation and event log stores on
// Firestore. Each aggregate gets its own collection of buckets.
type Store struct {
	client *firestore.Client
}

var (
	_ catalog.ItemRepository     = (*ItemRepository)(nil)
	_ catalog.ProviderRepository = (*ProviderRepository)(nil)
	_ aggregation.BucketStore    = (*BucketStore)(nil)
	_ eventlog.EventStore        = (*EventStore)(nil)
	_ eventlog.LeaseStore        = (*LeaseStore)(nil)
)

// NewStore wraps a Firestore client.
func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Items() *ItemRepository         { return &ItemRepository{client: s.client} }
func (s *Store) Providers() *ProviderRepository { return &ProviderRepository{client: s.client} }
func (s *Store) Buckets() *BucketStore          { return &BucketStore{client: s.client} }
func (s *Store) Events() *EventStore            { return &EventStore{client: s.client} }
func (s *Store) Leases() *LeaseStore            { return &LeaseStore{client: s.client} }

// toDoc converts v to a Firestore document through its JSON form, so the
// stored field names match the API documents.
func toDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(snap *firestore.DocumentSnapshot, v any) error {
	raw, err := json.Marshal(snap.Data())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// docID escapes a bucket key for use as a document id; ids may not contain '/'.
func docID(key string) string {
	return url.PathEscape(key)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func collect(iter *firestore.DocumentIterator, each func(*firestore.DocumentSnapshot) (bool, error)) error {
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		more, err := each(snap)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// ItemRepository implements catalog.ItemRepository on the products collection
type ItemRepository struct {
	client *firestore.Client
}

func (r *ItemRepository) Get(ctx context.Context, itemID string) (*catalog.Item, error) {
	snap, err := r.client.Collection(ItemsCollection).Doc(itemID).Get(ctx)
	if isNotFound(err) {
		return nil, catalog.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	var item catalog.Item
	if err := fromDoc(snap, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	return &item, nil
}

func (r *ItemRepository) Put(ctx context.Context, item *catalog.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Meta.Aggregated == nil {
		item.Meta.Aggregated = []string{}
	}
	doc, err := toDoc(item)
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", item.ItemID, err)
	}
	if _, err := r.client.Collection(ItemsCollection).Doc(item.ItemID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func (r *ItemRepository) ListPendingDetail(ctx context.Context) ([]*catalog.Item, error) {
	q := r.client.Collection(ItemsCollection).Where("meta.hasDetail", "==", false)
	return r.list(ctx, q, func(*catalog.Item) bool { return true })
}

// ListForAggregation filters the completed set client side; Firestore has
// no negated array-contains.
func (r *ItemRepository) ListForAggregation(ctx context.Context, aggregate string, requireDetail bool) ([]*catalog.Item, error) {
	q := r.client.Collection(ItemsCollection).Query
	if requireDetail {
		q = q.Where("meta.hasDetail", "==", true)
	}
	return r.list(ctx, q, func(it *catalog.Item) bool { return !it.Meta.HasAggregated(aggregate) })
}

func (r *ItemRepository) MarkAggregated(ctx context.Context, itemID, aggregate string) error {
	_, err := r.client.Collection(ItemsCollection).Doc(itemID).Update(ctx, []firestore.Update{
		{Path: "meta.aggregated", Value: firestore.ArrayUnion(aggregate)},
	})
	if isNotFound(err) {
		return catalog.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to mark item aggregated: %w", err)
	}
	return nil
}

func (r *ItemRepository) list(ctx context.Context, q firestore.Query, match func(*catalog.Item) bool) ([]*catalog.Item, error) {
	items := make([]*catalog.Item, 0)
	err := collect(q.Documents(ctx), func(snap *firestore.DocumentSnapshot) (bool, error) {
		var item catalog.Item
		if err := fromDoc(snap, &item); err != nil {
			return false, fmt.Errorf("failed to decode item %s: %w", snap.Ref.ID, err)
		}
		if match(&item) {
			items = append(items, &item)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	return items, nil
}

// ProviderRepository implements catalog.ProviderRepository on the banks collection
type ProviderRepository struct {
	client *firestore.Client
}

func (r *ProviderRepository) Get(ctx context.Context, providerID string) (*catalog.Provider, error) {
	snap, err := r.client.Collection(ProvidersCollection).Doc(providerID).Get(ctx)
	if isNotFound(err) {
		return nil, catalog.ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	var p catalog.Provider
	if err := fromDoc(snap, &p); err != nil {
		return nil, fmt.Errorf("failed to decode provider %s: %w", providerID, err)
	}
	return &p, nil
}

// Put merges only the configuration fields so the stored sync summary survives.
func (r *ProviderRepository) Put(ctx context.Context, provider *catalog.Provider) error {
	headers := provider.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	data := map[string]any{
		"id":         provider.ID,
		"name":       provider.Name,
		"apiBaseUrl": provider.APIBaseURL,
		"xv":         provider.APIVersion,
		"headers":    headers,
	}
	_, err := r.client.Collection(ProvidersCollection).Doc(provider.ID).Set(ctx, data, firestore.Merge(
		[]string{"id"}, []string{"name"}, []string{"apiBaseUrl"}, []string{"xv"}, []string{"headers"},
	))
	if err != nil {
		return fmt.Errorf("failed to put provider: %w", err)
	}
	return nil
}

func (r *ProviderRepository) List(ctx context.Context) ([]*catalog.Provider, error) {
	providers := make([]*catalog.Provider, 0)
	iter := r.client.Collection(ProvidersCollection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	err := collect(iter, func(snap *firestore.DocumentSnapshot) (bool, error) {
		var p catalog.Provider
		if err := fromDoc(snap, &p); err != nil {
			return false, fmt.Errorf("failed to decode provider %s: %w", snap.Ref.ID, err)
		}
		providers = append(providers, &p)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

func (r *ProviderRepository) SaveRunSummary(ctx context.Context, providerID string, summary catalog.RunSummary) error {
	doc, err := toDoc(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	_, err = r.client.Collection(ProvidersCollection).Doc(providerID).Update(ctx, []firestore.Update{
		{Path: "syncProductResult", Value: doc},
	})
	if isNotFound(err) {
		return catalog.ErrProviderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// BucketStore implements aggregation.BucketStore with one collection per aggregate
type BucketStore struct {
	client *firestore.Client
}

func (s *BucketStore) Get(ctx context.Context, aggregate, key string) (*aggregation.Bucket, error) {
	snap, err := s.client.Collection(aggregate).Doc(docID(key)).Get(ctx)
	if isNotFound(err) {
		return nil, aggregation.ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	var b aggregation.Bucket
	if err := fromDoc(snap, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bucket %s/%s: %w", aggregate, key, err)
	}
	return &b, nil
}

// Swap compares the stored version inside a transaction. Firestore retries
// the transaction on contention; a version mismatch is returned as is.
func (s *BucketStore) Swap(ctx context.Context, aggregate string, bucket *aggregation.Bucket, expectedVersion int64) error {
	ref := s.client.Collection(aggregate).Doc(docID(bucket.Key))
	next := bucket.Clone()
	next.Version = expectedVersion + 1

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		var current int64
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			var stored aggregation.Bucket
			if err := fromDoc(snap, &stored); err != nil {
				return err
			}
			current = stored.Version
		}
		if current != expectedVersion {
			return aggregation.ErrConflict
		}
		doc, err := toDoc(next)
		if err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if errors.Is(err, aggregation.ErrConflict) {
		return aggregation.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to swap bucket: %w", err)
	}
	bucket.Version = next.Version
	return nil
}

func (s *BucketStore) List(ctx context.Context, aggregate string) ([]*aggregation.Bucket, error) {
	buckets := make([]*aggregation.Bucket, 0)
	err := collect(s.client.Collection(aggregate).Documents(ctx), func(snap *firestore.DocumentSnapshot) (bool, error) {
		var b aggregation.Bucket
		if err := fromDoc(snap, &b); err != nil {
			return false, fmt.Errorf("failed to decode bucket %s: %w", snap.Ref.ID, err)
		}
		buckets = append(buckets, &b)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets, nil
}

// EventStore implements eventlog.EventStore on the events collection
type EventStore struct {
	client *firestore.Client
}

// createdAtNanos is the ordering field; RFC 3339 strings from the JSON
// form do not sort reliably across offsets.
const createdAtNanos = "createdAtNanos"

func (s *EventStore) Append(ctx context.Context, ev *eventlog.Event) (bool, error) {
	if ev.Consumers == nil {
		ev.Consumers = []string{}
	}
	doc, err := toDoc(ev)
	if err != nil {
		return false, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}
	doc[createdAtNanos] = ev.CreatedAt.UnixNano()

	_, err = s.client.Collection(EventsCollection).Doc(ev.ID).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}
	return true, nil
}

func (s *EventStore) Get(ctx context.Context, eventID string) (*eventlog.Event, error) {
	snap, err := s.client.Collection(EventsCollection).Doc(eventID).Get(ctx)
	if isNotFound(err) {
		return nil, eventlog.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	var ev eventlog.Event
	if err := fromDoc(snap, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	return &ev, nil
}

func (s *EventStore) ListUnconsumed(ctx context.Context, consumer string, limit int) ([]*eventlog.Event, error) {
	events := make([]*eventlog.Event, 0)
	iter := s.client.Collection(EventsCollection).
		OrderBy(createdAtNanos, firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	err := collect(iter, func(snap *firestore.DocumentSnapshot) (bool, error) {
		var ev eventlog.Event
		if err := fromDoc(snap, &ev); err != nil {
			return false, fmt.Errorf("failed to decode event %s: %w", snap.Ref.ID, err)
		}
		if !ev.HasConsumer(consumer) {
			events = append(events, &ev)
		}
		return limit <= 0 || len(events) < limit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unconsumed events: %w", err)
	}
	return events, nil
}

func (s *EventStore) MarkConsumed(ctx context.Context, eventID, consumer string) error {
	_, err := s.client.Collection(EventsCollection).Doc(eventID).Update(ctx, []firestore.Update{
		{Path: "consumers", Value: firestore.ArrayUnion(consumer)},
	})
	if isNotFound(err) {
		return eventlog.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to mark event consumed: %w", err)
	}
	return nil
}

// LeaseStore implements eventlog.LeaseStore on the leases collection
type LeaseStore struct {
	client *firestore.Client
}

type leaseDoc struct {
	Owner  string    `firestore:"owner"`
	Expiry time.Time `firestore:"leaseExpiry"`
	Done   bool      `firestore:"done"`
}

// leaseRef escapes the key; lease keys contain '/'.
func (s *LeaseStore) leaseRef(key string) *firestore.DocumentRef {
	return s.client.Collection(LeasesCollection).Doc(docID(key))
}

func (s *LeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) error {
	ref := s.leaseRef(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case isNotFound(err):
		case err != nil:
			return fmt.Errorf("failed to read lease: %w", err)
		default:
			var l leaseDoc
			if err := snap.DataTo(&l); err != nil {
				return fmt.Errorf("failed to decode lease: %w", err)
			}
			if l.Done {
				return eventlog.ErrLeaseDone
			}
			if now.Before(l.Expiry) && l.Owner != owner {
				return eventlog.ErrLeaseHeld
			}
		}
		return tx.Set(ref, leaseDoc{Owner: owner, Expiry: now.Add(ttl)})
	})
}

func (s *LeaseStore) Complete(ctx context.Context, key, owner string) error {
	ref := s.leaseRef(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return eventlog.ErrLeaseLost
		}
		if err != nil {
			return fmt.Errorf("failed to read lease: %w", err)
		}
		var l leaseDoc
		if err := snap.DataTo(&l); err != nil {
			return fmt.Errorf("failed to decode lease: %w", err)
		}
		if l.Owner != owner {
			return eventlog.ErrLeaseLost
		}
		return tx.Update(ref, []firestore.Update{{Path: "done", Value: true}})
	})
}
