package catalog

import "context"

// ItemRepository defines data access for canonical items.
// It is implemented by the postgres, firebase and memory stores.
type ItemRepository interface {
	// Get returns ErrItemNotFound when no item has the id.
	Get(ctx context.Context, itemID string) (*Item, error)

	// Put writes the whole item document, replacing any previous version.
	Put(ctx context.Context, item *Item) error

	// ListPendingDetail returns items whose meta.hasDetail is false.
	ListPendingDetail(ctx context.Context) ([]*Item, error)

	// ListForAggregation returns items not yet folded into aggregate.
	// With requireDetail only enriched items are returned.
	ListForAggregation(ctx context.Context, aggregate string, requireDetail bool) ([]*Item, error)

	// MarkAggregated adds aggregate to the item's completed set.
	MarkAggregated(ctx context.Context, itemID, aggregate string) error
}

// ProviderRepository defines data access for provider records.
type ProviderRepository interface {
	// Get returns ErrProviderNotFound when the provider does not exist.
	Get(ctx context.Context, providerID string) (*Provider, error)

	// Put creates or replaces a provider record, keeping its last summary.
	Put(ctx context.Context, provider *Provider) error

	// List returns all providers ordered by id.
	List(ctx context.Context) ([]*Provider, error)

	// SaveRunSummary overwrites the provider's last sync summary.
	SaveRunSummary(ctx context.Context, providerID string, summary RunSummary) error
}
