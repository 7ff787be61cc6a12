package catalog

import (
	"encoding/json"
	"maps"
	"time"
)

// Provider is an upstream catalog publisher (a bank).
type Provider struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	APIBaseURL string            `json:"apiBaseUrl" yaml:"apiBaseUrl"`
	APIVersion string            `json:"xv" yaml:"xv"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	LastSync   *RunSummary       `json:"syncProductResult,omitempty" yaml:"-"`
}

// RequestConfig is the per-request client configuration for one provider.
// It is built fresh for every call so no header state is shared between
// providers.
type RequestConfig struct {
	ProviderID string
	BaseURL    string
	Version    string
	Headers    map[string]string
}

// RequestConfig returns the client configuration for calls to this provider.
func (p *Provider) RequestConfig() RequestConfig {
	return RequestConfig{
		ProviderID: p.ID,
		BaseURL:    p.APIBaseURL,
		Version:    p.APIVersion,
		Headers:    maps.Clone(p.Headers),
	}
}

// RunSummary is the outcome of one reconciliation run, attached to the
// provider record and overwritten on every run.
type RunSummary struct {
	ProviderID   string          `json:"providerId"`
	LastSyncedAt time.Time       `json:"lastSyncedAt"`
	Status       string          `json:"status"`
	Message      string          `json:"message,omitempty"`
	ItemsFound   int             `json:"itemsFound"`
	ItemsAdded   int             `json:"itemsAdded"`
	ItemsUpdated int             `json:"itemsUpdated"`
	Error        string          `json:"error,omitempty"`
	ErrorPayload json.RawMessage `json:"errorPayload,omitempty"`
}

// Failed reports whether the run ended in error.
func (r *RunSummary) Failed() bool {
	return r != nil && r.Status == StatusError
}
