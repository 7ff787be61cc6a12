// Package http exposes the operational HTTP surface: health, job triggers
// and read access to providers and rollups.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"slices"

	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/interfaces/scheduler"
)

// HandleHealth returns a simple health check response.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// Triggerer is the part of the scheduler the job handler drives.
type Triggerer interface {
	Trigger(name string) (scheduler.TriggerInfo, error)
	Triggers() []scheduler.TriggerInfo
}

type JobHandler struct {
	triggers Triggerer
}

func NewJobHandler(triggers Triggerer) *JobHandler {
	return &JobHandler{triggers: triggers}
}

type TriggerResponse struct {
	Status  string                `json:"status"`
	Trigger scheduler.TriggerInfo `json:"trigger"`
}

// HandleListJobs returns every registered trigger with its next run.
func (h *JobHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.triggers.Triggers())
}

// HandleTriggerJob queues the named trigger and answers 202.
func (h *JobHandler) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	info, err := h.triggers.Trigger(name)
	if errors.Is(err, scheduler.ErrUnknownTrigger) {
		http.Error(w, "Unknown job", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to trigger job %s: %v", name, err)
		http.Error(w, "Failed to trigger job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "queued", Trigger: info})
}

// BucketLister reads rollup buckets.
type BucketLister interface {
	List(ctx context.Context, aggregate string) ([]*aggregation.Bucket, error)
}

type CatalogHandler struct {
	providers  catalog.ProviderRepository
	buckets    BucketLister
	aggregates []string
}

func NewCatalogHandler(providers catalog.ProviderRepository, buckets BucketLister, aggregates []string) *CatalogHandler {
	return &CatalogHandler{providers: providers, buckets: buckets, aggregates: aggregates}
}

// HandleListProviders returns every provider with its last run summary.
func (h *CatalogHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.List(r.Context())
	if err != nil {
		log.Printf("Failed to list providers: %v", err)
		http.Error(w, "Failed to list providers", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

// HandleGetProvider returns one provider.
func (h *CatalogHandler) HandleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, catalog.ErrProviderNotFound) {
		http.Error(w, "Provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to get provider: %v", err)
		http.Error(w, "Failed to get provider", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleListBuckets returns the buckets of one aggregate.
func (h *CatalogHandler) HandleListBuckets(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !slices.Contains(h.aggregates, name) {
		http.Error(w, "Unknown aggregate", http.StatusNotFound)
		return
	}

	buckets, err := h.buckets.List(r.Context(), name)
	if err != nil {
		log.Printf("Failed to list buckets for %s: %v", name, err)
		http.Error(w, "Failed to list buckets", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}
