// Package catalogsync reconciles providers' paginated product catalogs into
// the canonical item store.
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/infrastructure/provider"
)

const (
	DefaultPageSize    = 1000
	DefaultConcurrency = 10
)

var (
	syncTracer           = otel.Tracer("catalogsync/sync")
	syncMeter            = otel.Meter("catalogsync/sync")
	itemsAddedTotal, _   = syncMeter.Int64Counter("catalogsync.items.added", metric.WithDescription("Items inserted by reconciliation"))
	itemsUpdatedTotal, _ = syncMeter.Int64Counter("catalogsync.items.updated", metric.WithDescription("Items replaced because lastUpdated changed"))
	runsTotal, _         = syncMeter.Int64Counter("catalogsync.runs.total", metric.WithDescription("Reconciliation runs by status"))
)

// CreatedHook is notified before a new item is first stored.
type CreatedHook interface {
	OnItemCreated(ctx context.Context, item *catalog.Item) error
}

// Alerter is told about runs that ended in error.
type Alerter interface {
	SyncFailed(ctx context.Context, summary catalog.RunSummary) error
}

// Service handles syncing provider catalogs into the item store
type Service struct {
	client      provider.ClientInterface
	providers   catalog.ProviderRepository
	items       catalog.ItemRepository
	concurrency int
	hook        CreatedHook
	alerter     Alerter
	now         func() time.Time
}

// NewService creates a new reconciliation service. concurrency bounds the
// parallel item writes of one page; zero uses DefaultConcurrency.
func NewService(
	client provider.ClientInterface,
	providers catalog.ProviderRepository,
	items catalog.ItemRepository,
	concurrency int,
) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{
		client:      client,
		providers:   providers,
		items:       items,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetCreatedHook registers the hook run for every newly inserted item.
func (s *Service) SetCreatedHook(h CreatedHook) { s.hook = h }

// SetAlerter registers where failed runs are reported.
func (s *Service) SetAlerter(a Alerter) { s.alerter = a }

// Reconcile pages through a provider's catalog and upserts changed items.
// A failed run is recorded on the provider with status error and returned
// without an error; only a missing provider or a failure to save the
// summary is returned as an error. Items written before a failure stay.
func (s *Service) Reconcile(ctx context.Context, providerID string, pageSize int) (*catalog.RunSummary, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	ctx, span := syncTracer.Start(ctx, "catalogsync.reconcile",
		trace.WithAttributes(attribute.String("provider.id", providerID)))
	defer span.End()

	p, err := s.providers.Get(ctx, providerID)
	if err != nil {
		if errors.Is(err, catalog.ErrProviderNotFound) {
			log.Printf("Provider %s: not found, skipping sync", providerID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider lookup failed")
		return nil, fmt.Errorf("failed to get provider %s: %w", providerID, err)
	}

	summary := catalog.RunSummary{ProviderID: providerID}
	runErr := s.syncPages(ctx, p, pageSize, &summary)
	summary.LastSyncedAt = s.now().UTC()

	if runErr != nil {
		summary.Status = catalog.StatusError
		summary.Error = runErr.Error()
		summary.ErrorPayload = provider.ErrorPayload(runErr)
		summary.Message = fmt.Sprintf("Failed after %d products found, %d added, %d updated",
			summary.ItemsFound, summary.ItemsAdded, summary.ItemsUpdated)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "sync failed")
		log.Printf("Provider %s: Sync failed: %v", providerID, runErr)
	} else {
		summary.Status = catalog.StatusSuccess
		summary.Message = fmt.Sprintf("Success with %d products found, %d added, %d updated",
			summary.ItemsFound, summary.ItemsAdded, summary.ItemsUpdated)
		log.Printf("Provider %s: %s", providerID, summary.Message)
	}

	span.SetAttributes(
		attribute.Int("items.found", summary.ItemsFound),
		attribute.Int("items.added", summary.ItemsAdded),
		attribute.Int("items.updated", summary.ItemsUpdated),
	)
	runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("status", summary.Status),
	))

	if err := s.providers.SaveRunSummary(ctx, providerID, summary); err != nil {
		return &summary, fmt.Errorf("failed to save run summary for %s: %w", providerID, err)
	}

	if summary.Failed() && s.alerter != nil {
		if err := s.alerter.SyncFailed(ctx, summary); err != nil {
			log.Printf("Provider %s: Failed to send sync alert: %v", providerID, err)
		}
	}

	return &summary, nil
}

// SyncMultipleProviders reconciles each provider in turn. A missing or
// failing provider does not stop the others.
func (s *Service) SyncMultipleProviders(ctx context.Context, providerIDs []string, pageSize int) []*catalog.RunSummary {
	summaries := make([]*catalog.RunSummary, 0, len(providerIDs))
	for _, id := range providerIDs {
		summary, err := s.Reconcile(ctx, id, pageSize)
		if err != nil {
			log.Printf("Provider %s: %v", id, err)
		}
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}

// syncPages fetches pages in order. Malformed pages and rejected products
// after the first page are skipped so the rest of the catalog still syncs,
// and are returned together once the last page is done.
func (s *Service) syncPages(ctx context.Context, p *catalog.Provider, pageSize int, summary *catalog.RunSummary) error {
	cfg := p.RequestConfig()
	totalPages := 0
	var skipped []error

	for page := 1; ; page++ {
		resp, err := s.client.ListItems(ctx, cfg, page, pageSize)
		if err != nil {
			if errors.Is(err, provider.ErrMalformedResponse) && totalPages > 0 {
				log.Printf("Provider %s: Skipping malformed page %d: %v", p.ID, page, err)
				skipped = append(skipped, fmt.Errorf("page %d: %w", page, err))
				if page >= totalPages {
					return skippedError(skipped)
				}
				continue
			}
			return fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		totalPages = resp.TotalPages
		for _, r := range resp.Rejected {
			log.Printf("Provider %s: Skipping %s", p.ID, r)
			skipped = append(skipped, fmt.Errorf("%w: %s", provider.ErrMalformedResponse, r))
		}

		items := uniqueItems(p.ID, resp.Items)
		summary.ItemsFound += len(items)

		added, updated, err := s.upsertPage(ctx, p.ID, items)
		summary.ItemsAdded += added
		summary.ItemsUpdated += updated
		if err != nil {
			return fmt.Errorf("failed to write page %d: %w", page, err)
		}

		log.Printf("Provider %s: Page %d/%d - %d items, %d added, %d updated",
			p.ID, page, totalPages, len(items), added, updated)

		if page >= totalPages {
			return skippedError(skipped)
		}
	}
}

func skippedError(skipped []error) error {
	if len(skipped) == 0 {
		return nil
	}
	return fmt.Errorf("skipped %d malformed entries: %w", len(skipped), errors.Join(skipped...))
}

// uniqueItems drops repeated item ids within a page, keeping the first.
func uniqueItems(providerID string, items []*catalog.Item) []*catalog.Item {
	seen := make(map[string]bool, len(items))
	out := make([]*catalog.Item, 0, len(items))
	for _, it := range items {
		if seen[it.ItemID] {
			log.Printf("Provider %s: Ignoring repeated product %s on page", providerID, it.ItemID)
			continue
		}
		seen[it.ItemID] = true
		out = append(out, it)
	}
	return out
}

// upsertPage writes one page's items concurrently.
func (s *Service) upsertPage(ctx context.Context, providerID string, items []*catalog.Item) (int, int, error) {
	var added, updated atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range items {
		g.Go(func() error {
			outcome, err := s.upsertItem(gctx, providerID, item)
			if err != nil {
				return fmt.Errorf("item %s: %w", item.ItemID, err)
			}
			switch outcome {
			case outcomeAdded:
				added.Add(1)
			case outcomeUpdated:
				updated.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	itemsAddedTotal.Add(ctx, added.Load(), metric.WithAttributes(attribute.String("provider.id", providerID)))
	itemsUpdatedTotal.Add(ctx, updated.Load(), metric.WithAttributes(attribute.String("provider.id", providerID)))
	return int(added.Load()), int(updated.Load()), err
}

type upsertOutcome int

const (
	outcomeSkipped upsertOutcome = iota
	outcomeAdded
	outcomeUpdated
)

func (s *Service) upsertItem(ctx context.Context, providerID string, incoming *catalog.Item) (upsertOutcome, error) {
	now := s.now().UTC()

	existing, err := s.items.Get(ctx, incoming.ItemID)
	if err != nil && !errors.Is(err, catalog.ErrItemNotFound) {
		return outcomeSkipped, fmt.Errorf("failed to get item: %w", err)
	}

	if existing == nil {
		item := incoming.Clone()
		item.Meta = catalog.Meta{
			ProviderID: providerID,
			CreatedAt:  now,
			UpdatedAt:  now,
			HasDetail:  false,
			Aggregated: []string{},
		}
		// The event is appended first; a crash before the insert leaves an
		// event whose creation is retried and de-duplicated on the next run.
		if s.hook != nil {
			if err := s.hook.OnItemCreated(ctx, item); err != nil {
				return outcomeSkipped, fmt.Errorf("failed to record creation: %w", err)
			}
		}
		if err := s.items.Put(ctx, item); err != nil {
			return outcomeSkipped, fmt.Errorf("failed to insert item: %w", err)
		}
		return outcomeAdded, nil
	}

	if existing.LastUpdated == incoming.LastUpdated {
		return outcomeSkipped, nil
	}

	item := incoming.Clone()
	item.Meta = existing.Meta
	item.Meta.ProviderID = providerID
	item.Meta.UpdatedAt = now
	item.Meta.HasDetail = false
	item.Meta.DetailedAt = nil
	item.Meta.Financials = nil
	item.Meta.Warnings = nil
	item.Meta.ResetAggregation()

	if err := s.items.Put(ctx, item); err != nil {
		return outcomeSkipped, fmt.Errorf("failed to update item: %w", err)
	}
	return outcomeUpdated, nil
}
