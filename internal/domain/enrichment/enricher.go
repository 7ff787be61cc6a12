// Package enrichment fetches provider detail for items that lack it and
// derives their classification and indicative costs.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/fees"
	"catalogsync/internal/infrastructure/provider"
)

// Mode selects how a pass issues its detail requests.
type Mode string

const (
	// ModeParallel enriches every pending item concurrently.
	ModeParallel Mode = "parallel"
	// ModeSequential enriches one item at a time, paced by the rate limiter.
	ModeSequential Mode = "sequential"
)

// ErrChangedDuringEnrichment is returned for an item whose lastUpdated moved
// while its detail was being fetched.
var ErrChangedDuringEnrichment = errors.New("item changed during enrichment")

var (
	enrichTracer   = otel.Tracer("catalogsync/enrichment")
	enrichMeter    = otel.Meter("catalogsync/enrichment")
	enrichTotal, _ = enrichMeter.Int64Counter("enrichment.items.total", metric.WithDescription("Enriched items by mode and status"))
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeParallel, ModeSequential:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid enrichment mode %q", s)
}

// ItemError is one item that could not be enriched.
type ItemError struct {
	ItemID      string `json:"itemId"`
	ProviderID  string `json:"providerId"`
	Error       string `json:"error"`
	RateLimited bool   `json:"rateLimited,omitempty"`
}

// Result contains the results of an enrichment pass
type Result struct {
	Mode        Mode        `json:"mode"`
	Pending     int         `json:"pending"`
	Successes   []string    `json:"successes"`
	Errors      []ItemError `json:"errors"`
	RateLimited int         `json:"rateLimited"`
}

// ShouldRetrySequential reports whether a parallel pass left failures that a
// slower sequential pass may clear.
func ShouldRetrySequential(r *Result) bool {
	return r != nil && r.Mode == ModeParallel && len(r.Errors) > 0
}

// Service handles enriching pending items with provider detail
type Service struct {
	client        provider.ClientInterface
	providers     catalog.ProviderRepository
	items         catalog.ItemRepository
	parallelLimit int
	limiter       *rate.Limiter
	now           func() time.Time
}

// NewService creates an enrichment service. parallelLimit caps in-flight
// requests in parallel mode (zero is unbounded); perSecond paces sequential
// mode (zero or less disables pacing).
func NewService(
	client provider.ClientInterface,
	providers catalog.ProviderRepository,
	items catalog.ItemRepository,
	parallelLimit int,
	perSecond float64,
) *Service {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Service{
		client:        client,
		providers:     providers,
		items:         items,
		parallelLimit: parallelLimit,
		limiter:       rate.NewLimiter(limit, 1),
		now:           time.Now,
	}
}

// EnrichPending enriches every item whose detail has not been fetched.
// Per-item failures are collected in the result; only a failure to select
// the pending items is returned as an error.
func (s *Service) EnrichPending(ctx context.Context, mode Mode) (*Result, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	ctx, span := enrichTracer.Start(ctx, "enrichment.enrich_pending",
		trace.WithAttributes(attribute.String("mode", string(mode))))
	defer span.End()

	pending, err := s.items.ListPendingDetail(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select pending failed")
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}

	result := &Result{
		Mode:      mode,
		Pending:   len(pending),
		Successes: []string{},
		Errors:    []ItemError{},
	}
	log.Printf("Enrichment (%s): %d items pending detail", mode, len(pending))

	pass := &pass{service: s, result: result, providers: make(map[string]*catalog.Provider)}

	switch mode {
	case ModeParallel:
		var g errgroup.Group
		if s.parallelLimit > 0 {
			g.SetLimit(s.parallelLimit)
		}
		for _, item := range pending {
			g.Go(func() error {
				pass.enrich(ctx, item)
				return nil
			})
		}
		_ = g.Wait()
	case ModeSequential:
		for _, item := range pending {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, fmt.Errorf("sequential enrichment interrupted: %w", err)
			}
			pass.enrich(ctx, item)
		}
	}

	span.SetAttributes(
		attribute.Int("items.pending", result.Pending),
		attribute.Int("items.enriched", len(result.Successes)),
		attribute.Int("items.failed", len(result.Errors)),
	)
	log.Printf("Enrichment (%s): complete - Enriched: %d, Errors: %d, Rate limited: %d",
		mode, len(result.Successes), len(result.Errors), result.RateLimited)
	return result, nil
}

// pass holds the state shared by the items of one EnrichPending call.
type pass struct {
	service *Service

	mu        sync.Mutex
	result    *Result
	providers map[string]*catalog.Provider
}

func (p *pass) enrich(ctx context.Context, item *catalog.Item) {
	err := p.service.enrichItem(ctx, p, item)

	status := "success"
	p.mu.Lock()
	if err != nil {
		status = "error"
		limited := provider.IsRateLimited(err)
		p.result.Errors = append(p.result.Errors, ItemError{
			ItemID:      item.ItemID,
			ProviderID:  item.Meta.ProviderID,
			Error:       err.Error(),
			RateLimited: limited,
		})
		if limited {
			p.result.RateLimited++
		}
	} else {
		p.result.Successes = append(p.result.Successes, item.ItemID)
	}
	p.mu.Unlock()

	if err != nil {
		log.Printf("Item %s: enrichment failed: %v", item.ItemID, err)
	}
	enrichTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(p.result.Mode)),
		attribute.String("status", status),
	))
}

// resolveProvider looks a provider up once per pass.
func (p *pass) resolveProvider(ctx context.Context, id string) (*catalog.Provider, error) {
	p.mu.Lock()
	cached, ok := p.providers[id]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	pr, err := p.service.providers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.providers[id] = pr
	p.mu.Unlock()
	return pr, nil
}

func (s *Service) enrichItem(ctx context.Context, p *pass, item *catalog.Item) error {
	pr, err := p.resolveProvider(ctx, item.Meta.ProviderID)
	if err != nil {
		return fmt.Errorf("failed to resolve provider %q: %w", item.Meta.ProviderID, err)
	}

	detail, err := s.client.GetItemDetail(ctx, pr.RequestConfig(), item.ItemID)
	if err != nil {
		return fmt.Errorf("failed to fetch detail: %w", err)
	}

	current, err := s.items.Get(ctx, item.ItemID)
	if err != nil {
		return fmt.Errorf("failed to reload item: %w", err)
	}
	if current.LastUpdated != item.LastUpdated {
		return ErrChangedDuringEnrichment
	}

	financials, warnings := fees.Derive(detail.Fees)
	now := s.now().UTC()

	merged := detail.Clone()
	merged.ItemID = current.ItemID
	// The reconciler owns the change-detection version.
	merged.LastUpdated = current.LastUpdated
	merged.Meta = current.Meta
	merged.Meta.HasDetail = true
	merged.Meta.UpdatedAt = now
	merged.Meta.DetailedAt = &now
	merged.Meta.CategoryType = fees.ParseCategoryType(merged.Category)
	merged.Meta.Financials = &financials
	merged.Meta.Warnings = warnings
	// The detail brings the sub-collections the fan-out aggregates read.
	merged.Meta.ResetAggregation()

	if err := s.items.Put(ctx, merged); err != nil {
		return fmt.Errorf("failed to save detail: %w", err)
	}
	return nil
}
