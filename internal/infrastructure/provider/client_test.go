package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/domain/catalog"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, catalog.RequestConfig) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := catalog.RequestConfig{
		ProviderID: "cba",
		BaseURL:    srv.URL + "/cds-au/v1/banking",
		Version:    "3",
		Headers:    map[string]string{"x-min-v": "1"},
	}
	return NewClientWithHTTP(srv.Client()), cfg
}

func TestListItems(t *testing.T) {
	client, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cds-au/v1/banking/products", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "25", r.URL.Query().Get("page-size"))
		assert.Equal(t, "3", r.Header.Get("x-v"))
		assert.Equal(t, "1", r.Header.Get("x-min-v"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		_, _ = w.Write([]byte(`{
			"data": {"products": [
				{"productId": "p1", "lastUpdated": "2024-01-01T00:00:00Z", "brand": "CBA", "name": "Everyday", "productCategory": "TRANS_AND_SAVINGS_ACCOUNTS"},
				{"productId": "p2", "lastUpdated": "2024-02-01T00:00:00Z", "brand": "CBA", "name": "Home Loan", "productCategory": "RESIDENTIAL_MORTGAGES", "meta": {"hasDetail": true}}
			]},
			"links": {"self": "x"},
			"meta": {"totalRecords": 52, "totalPages": 3}
		}`))
	})

	page, err := client.ListItems(context.Background(), cfg, 2, 25)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 52, page.TotalRecords)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "p1", page.Items[0].ItemID)
	assert.Equal(t, "RESIDENTIAL_MORTGAGES", page.Items[1].Category)
	assert.False(t, page.Items[1].Meta.HasDetail, "provider documents never set engine meta")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(page.Items[0].Payload, &payload))
	assert.Equal(t, "Everyday", payload["name"])
}

func TestListItemsMalformed(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantTotalPages int
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "missing data", body: `{"meta": {"totalPages": 4, "totalRecords": 100}}`, wantTotalPages: 4},
		{name: "missing products", body: `{"data": {}, "meta": {"totalPages": 2}}`, wantTotalPages: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			page, err := client.ListItems(context.Background(), cfg, 1, 10)
			require.ErrorIs(t, err, ErrMalformedResponse)
			if tt.wantTotalPages > 0 {
				require.NotNil(t, page)
				assert.Equal(t, tt.wantTotalPages, page.TotalPages)
			}
		})
	}
}

func TestListItemsRejectsProductWithoutID(t *testing.T) {
	client, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": {"products": [
				{"productId": "p1", "lastUpdated": "2024-01-01T00:00:00Z", "name": "Everyday"},
				{"name": "no id"},
				{"productId": "p3", "lastUpdated": "2024-01-01T00:00:00Z", "name": "Saver"}
			]},
			"meta": {"totalRecords": 3, "totalPages": 1}
		}`))
	})

	page, err := client.ListItems(context.Background(), cfg, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "p1", page.Items[0].ItemID)
	assert.Equal(t, "p3", page.Items[1].ItemID)
	require.Len(t, page.Rejected, 1)
	assert.Contains(t, page.Rejected[0], "product 1 on page 1")
}

func TestHTTPErrors(t *testing.T) {
	client, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"code":"urn:au-cds:error:cds-all:General/TooManyRequests"}]}`))
	})

	_, err := client.GetItemDetail(context.Background(), cfg, "p1")
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.ErrorIs(t, err, ErrTransport)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.JSONEq(t, `{"errors":[{"code":"urn:au-cds:error:cds-all:General/TooManyRequests"}]}`, string(ErrorPayload(err)))
}

func TestGetItemDetail(t *testing.T) {
	client, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cds-au/v1/banking/products/p%201", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"data": {
			"productId": "p 1", "lastUpdated": "2024-01-01T00:00:00Z", "name": "Everyday",
			"fees": [{"name": "Monthly", "feeType": "PERIODIC", "amount": "5.00", "additionalValue": "P1M"}],
			"features": [{"featureType": "CARD_ACCESS"}]
		}}`))
	})

	item, err := client.GetItemDetail(context.Background(), cfg, "p 1")
	require.NoError(t, err)
	assert.Equal(t, "p 1", item.ItemID)
	require.Len(t, item.Fees, 1)
	assert.Equal(t, "5.00", item.Fees[0].Amount)
	require.Len(t, item.Features, 1)
	assert.Equal(t, "CARD_ACCESS", item.Features[0].FeatureType)
}

func TestGetItemDetailNoData(t *testing.T) {
	client, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": null}`))
	})

	_, err := client.GetItemDetail(context.Background(), cfg, "p1")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestTransportError(t *testing.T) {
	client := NewClient(0)
	cfg := catalog.RequestConfig{ProviderID: "x", BaseURL: "http://127.0.0.1:1"}

	_, err := client.ListItems(context.Background(), cfg, 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, IsRateLimited(err))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(ErrorPayload(err), &payload))
	assert.Equal(t, err.Error(), payload["message"])
}
