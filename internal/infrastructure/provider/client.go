// Package provider is the HTTP client for providers' product catalog APIs.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"catalogsync/internal/domain/catalog"
)

const (
	defaultTimeout = 60 * time.Second
	productsPath   = "/products"
	versionHeader  = "x-v"
	maxBodyBytes   = 16 << 20
)

// Client handles communication with provider catalog APIs
type Client struct {
	httpClient *http.Client
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new provider client. A zero timeout uses the default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewClientWithHTTP wraps an existing http.Client (used by tests).
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// Page is one page of a provider's product list.
type Page struct {
	Items        []*catalog.Item
	TotalPages   int
	TotalRecords int

	// Rejected describes products on the page that could not be decoded.
	// They are left out of Items.
	Rejected []string
}

// listResponse represents the API response for a product list page
type listResponse struct {
	Data *struct {
		Products []json.RawMessage `json:"products"`
	} `json:"data"`
	Meta *struct {
		TotalRecords int `json:"totalRecords"`
		TotalPages   int `json:"totalPages"`
	} `json:"meta"`
}

// detailResponse represents the API response for one product's detail
type detailResponse struct {
	Data json.RawMessage `json:"data"`
}

// ListItems fetches one page of the provider's product list. Products that
// fail to decode are listed in Page.Rejected; their siblings are kept.
// On ErrMalformedResponse the returned page still carries TotalPages and
// TotalRecords when the response meta was readable.
func (c *Client) ListItems(ctx context.Context, cfg catalog.RequestConfig, page, pageSize int) (*Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page-size", strconv.Itoa(pageSize))

	body, err := c.get(ctx, cfg, productsPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal product page: %v", ErrMalformedResponse, err)
	}

	result := &Page{}
	if resp.Meta != nil {
		result.TotalPages = resp.Meta.TotalPages
		result.TotalRecords = resp.Meta.TotalRecords
	}
	if resp.Data == nil || resp.Data.Products == nil {
		return result, fmt.Errorf("%w: response has no product list", ErrMalformedResponse)
	}

	result.Items = make([]*catalog.Item, 0, len(resp.Data.Products))
	for i, raw := range resp.Data.Products {
		item, err := decodeItem(raw)
		if err != nil {
			result.Rejected = append(result.Rejected, fmt.Sprintf("product %d on page %d: %v", i, page, err))
			continue
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}

// GetItemDetail fetches the full product detail for one item.
func (c *Client) GetItemDetail(ctx context.Context, cfg catalog.RequestConfig, itemID string) (*catalog.Item, error) {
	body, err := c.get(ctx, cfg, productsPath+"/"+url.PathEscape(itemID))
	if err != nil {
		return nil, err
	}

	var resp detailResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal product detail: %v", ErrMalformedResponse, err)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, fmt.Errorf("%w: detail response has no data", ErrMalformedResponse)
	}

	item, err := decodeItem(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return item, nil
}

// get performs a GET with the provider's per-request headers.
func (c *Client) get(ctx context.Context, cfg catalog.RequestConfig, path string) ([]byte, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s has no API base URL", cfg.ProviderID)
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Version != "" {
		req.Header.Set(versionHeader, cfg.Version)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}

func decodeItem(raw json.RawMessage) (*catalog.Item, error) {
	var item catalog.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("product has no productId")
	}
	// Engine-owned fields never come from the provider.
	item.Meta = catalog.Meta{}
	item.Payload = append(json.RawMessage(nil), raw...)
	return &item, nil
}
