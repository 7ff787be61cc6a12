package provider

import (
	"context"

	"catalogsync/internal/domain/catalog"
)

// ClientInterface defines the methods required from a provider catalog client.
// Every call carries its own request configuration.
type ClientInterface interface {
	ListItems(ctx context.Context, cfg catalog.RequestConfig, page, pageSize int) (*Page, error)
	GetItemDetail(ctx context.Context, cfg catalog.RequestConfig, itemID string) (*catalog.Item, error)
}
