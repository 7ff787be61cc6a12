package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"catalogsync/internal/domain/catalog"
)

// ItemRepository implements the catalog.ItemRepository interface for PostgreSQL
type ItemRepository struct {
	db *DB
}

var _ catalog.ItemRepository = (*ItemRepository)(nil)

// NewItemRepository creates a new PostgreSQL item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Get retrieves an item by its id
func (r *ItemRepository) Get(ctx context.Context, itemID string) (*catalog.Item, error) {
	query := `SELECT document, aggregated FROM catalog_items WHERE id = $1`

	var doc []byte
	var aggregated pq.StringArray
	err := r.db.QueryRowContext(ctx, query, itemID).Scan(&doc, &aggregated)
	if isNoRows(err) {
		return nil, catalog.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return decodeItem(doc, aggregated)
}

// Put writes the whole item document
func (r *ItemRepository) Put(ctx context.Context, item *catalog.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	aggregated := item.Meta.Aggregated
	if aggregated == nil {
		aggregated = []string{}
	}

	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	query := `
		INSERT INTO catalog_items (id, provider_id, has_detail, aggregated, document, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			has_detail = EXCLUDED.has_detail,
			aggregated = EXCLUDED.aggregated,
			document = EXCLUDED.document,
			updated_at = now()
	`
	_, err = r.db.ExecContext(ctx, query,
		item.ItemID, item.Meta.ProviderID, item.Meta.HasDetail, pq.Array(aggregated), doc)
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// ListPendingDetail returns items whose detail has not been fetched
func (r *ItemRepository) ListPendingDetail(ctx context.Context) ([]*catalog.Item, error) {
	query := `SELECT document, aggregated FROM catalog_items WHERE NOT has_detail ORDER BY id`
	return r.list(ctx, query)
}

// ListForAggregation returns items not yet folded into aggregate
func (r *ItemRepository) ListForAggregation(ctx context.Context, aggregate string, requireDetail bool) ([]*catalog.Item, error) {
	query := `
		SELECT document, aggregated FROM catalog_items
		WHERE NOT ($1 = ANY(aggregated)) AND (NOT $2 OR has_detail)
		ORDER BY id
	`
	return r.list(ctx, query, aggregate, requireDetail)
}

// MarkAggregated adds aggregate to the item's completed set
func (r *ItemRepository) MarkAggregated(ctx context.Context, itemID, aggregate string) error {
	query := `
		UPDATE catalog_items
		SET aggregated = CASE WHEN $2 = ANY(aggregated) THEN aggregated ELSE array_append(aggregated, $2) END
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, itemID, aggregate)
	if err != nil {
		return fmt.Errorf("failed to mark item aggregated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return catalog.ErrItemNotFound
	}
	return nil
}

func (r *ItemRepository) list(ctx context.Context, query string, args ...any) ([]*catalog.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*catalog.Item
	for rows.Next() {
		var doc []byte
		var aggregated pq.StringArray
		if err := rows.Scan(&doc, &aggregated); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item, err := decodeItem(doc, aggregated)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// decodeItem unmarshals a stored document. The aggregated column is the
// source of truth for the completed set.
func decodeItem(doc []byte, aggregated pq.StringArray) (*catalog.Item, error) {
	var item catalog.Item
	if err := json.Unmarshal(doc, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	item.Meta.Aggregated = []string(aggregated)
	if item.Meta.Aggregated == nil {
		item.Meta.Aggregated = []string{}
	}
	return &item, nil
}
