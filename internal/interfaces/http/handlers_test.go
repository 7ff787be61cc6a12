package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/infrastructure/memory"
	"catalogsync/internal/interfaces/scheduler"
)

// MockTriggerer implements Triggerer for testing
type MockTriggerer struct {
	TriggerFunc  func(name string) (scheduler.TriggerInfo, error)
	TriggersFunc func() []scheduler.TriggerInfo
}

func (m *MockTriggerer) Trigger(name string) (scheduler.TriggerInfo, error) {
	if m.TriggerFunc != nil {
		return m.TriggerFunc(name)
	}
	return scheduler.TriggerInfo{Name: name}, nil
}

func (m *MockTriggerer) Triggers() []scheduler.TriggerInfo {
	if m.TriggersFunc != nil {
		return m.TriggersFunc()
	}
	return nil
}

func newMux(t *testing.T, jobs *JobHandler, cat *CatalogHandler) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HandleHealth)
	if jobs != nil {
		mux.HandleFunc("GET /api/jobs", jobs.HandleListJobs)
		mux.HandleFunc("POST /api/jobs/{name}", jobs.HandleTriggerJob)
	}
	if cat != nil {
		mux.HandleFunc("GET /api/providers", cat.HandleListProviders)
		mux.HandleFunc("GET /api/providers/{id}", cat.HandleGetProvider)
		mux.HandleFunc("GET /api/aggregates/{name}", cat.HandleListBuckets)
	}
	return mux
}

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newMux(t, nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHandleTriggerJob(t *testing.T) {
	var triggered string
	h := NewJobHandler(&MockTriggerer{
		TriggerFunc: func(name string) (scheduler.TriggerInfo, error) {
			if name != "sync-batch-1" {
				return scheduler.TriggerInfo{}, scheduler.ErrUnknownTrigger
			}
			triggered = name
			return scheduler.TriggerInfo{Name: name, Spec: "0 10 * * *"}, nil
		},
	})
	mux := newMux(t, h, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"known job", http.MethodPost, "/api/jobs/sync-batch-1", http.StatusAccepted},
		{"unknown job", http.MethodPost, "/api/jobs/nope", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/jobs/sync-batch-1", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
	assert.Equal(t, "sync-batch-1", triggered)
}

func TestHandleTriggerJob_Failure(t *testing.T) {
	h := NewJobHandler(&MockTriggerer{
		TriggerFunc: func(string) (scheduler.TriggerInfo, error) { return scheduler.TriggerInfo{}, errors.New("boom") },
	})
	rr := httptest.NewRecorder()
	newMux(t, h, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandleListJobs(t *testing.T) {
	h := NewJobHandler(&MockTriggerer{
		TriggersFunc: func() []scheduler.TriggerInfo {
			return []scheduler.TriggerInfo{{Name: "aggregate-productBrands", Spec: "0 11 * * *"}}
		},
	})
	rr := httptest.NewRecorder()
	newMux(t, h, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []scheduler.TriggerInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "aggregate-productBrands", got[0].Name)
}

func TestCatalogHandler(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Providers.Put(ctx, &catalog.Provider{ID: "anz", Name: "ANZ"}))
	b := &aggregation.Bucket{Key: "anz", Name: "anz", Count: 1, Sources: []string{"p-1"}}
	require.NoError(t, store.Buckets.Swap(ctx, aggregation.ProductBrands, b, 0))

	h := NewCatalogHandler(store.Providers, store.Buckets, []string{aggregation.ProductBrands})
	mux := newMux(t, nil, h)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/aggregates/productBrands", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var buckets []aggregation.Bucket
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.Equal(t, 1, buckets[0].Count)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/aggregates/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/providers/anz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/providers/cba", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
