package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"catalogsync/internal/domain/aggregation"
	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/domain/enrichment"
	"catalogsync/internal/domain/eventlog"
)

// Job names
const (
	JobReconcile = "reconcile"
	JobEnrich    = "enrich"
	JobAggregate = "aggregate"
	JobConsume   = "consume"
	JobEvent     = "event"
)

// ReconcileJob syncs a batch of providers one after another.
type ReconcileJob struct {
	providerIDs []string
	pageSize    int
	service     *catalogsync.Service
}

// NewReconcileJob creates a sync job for providerIDs.
func NewReconcileJob(service *catalogsync.Service, providerIDs []string, pageSize int) *ReconcileJob {
	return &ReconcileJob{providerIDs: providerIDs, pageSize: pageSize, service: service}
}

// Execute reconciles every provider. Failed runs are recorded on the
// provider and reported together.
func (j *ReconcileJob) Execute(ctx context.Context) error {
	summaries := j.service.SyncMultipleProviders(ctx, j.providerIDs, j.pageSize)

	ok := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		ok[s.ProviderID] = !s.Failed()
	}

	var failed []string
	for _, id := range j.providerIDs {
		if !ok[id] {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("sync failed for %d/%d providers: %s", len(failed), len(j.providerIDs), strings.Join(failed, ","))
	}
	return nil
}

func (j *ReconcileJob) Name() string { return JobReconcile }

func (j *ReconcileJob) Description() string {
	return fmt.Sprintf("Catalog sync for providers %s", strings.Join(j.providerIDs, ","))
}

// EnrichJob runs one detail enrichment pass.
type EnrichJob struct {
	mode    enrichment.Mode
	service *enrichment.Service
}

// NewEnrichJob creates an enrichment job.
func NewEnrichJob(service *enrichment.Service, mode enrichment.Mode) *EnrichJob {
	return &EnrichJob{mode: mode, service: service}
}

func (j *EnrichJob) Execute(ctx context.Context) error {
	result, err := j.service.EnrichPending(ctx, j.mode)
	if err != nil {
		return fmt.Errorf("enrichment failed: %w", err)
	}

	if len(result.Errors) > 0 {
		log.Printf("Enrichment (%s) completed with errors: Pending=%d, Enriched=%d, Errors=%d, RateLimited=%d",
			j.mode, result.Pending, len(result.Successes), len(result.Errors), result.RateLimited)
		if enrichment.ShouldRetrySequential(result) {
			log.Printf("Enrichment: %d items left for the sequential pass", len(result.Errors))
		}
		return nil
	}

	log.Printf("Enrichment (%s) completed: Pending=%d, Enriched=%d", j.mode, result.Pending, len(result.Successes))
	return nil
}

func (j *EnrichJob) Name() string { return JobEnrich }

func (j *EnrichJob) Description() string {
	return fmt.Sprintf("Detail enrichment (%s)", j.mode)
}

// AggregateJob runs a full scan of one aggregate.
type AggregateJob struct {
	aggregate string
	engine    *aggregation.Engine
}

// NewAggregateJob creates a scan job for aggregate.
func NewAggregateJob(engine *aggregation.Engine, aggregate string) *AggregateJob {
	return &AggregateJob{aggregate: aggregate, engine: engine}
}

func (j *AggregateJob) Execute(ctx context.Context) error {
	res, err := j.engine.Run(ctx, j.aggregate)
	if err != nil {
		return fmt.Errorf("aggregate %s failed: %w", j.aggregate, err)
	}
	log.Printf("Aggregate %s: Scanned=%d, Folded=%d, Skipped=%d, Conflicts=%d",
		j.aggregate, res.Scanned, res.Folded, res.Skipped, res.Conflicts)
	return nil
}

func (j *AggregateJob) Name() string { return JobAggregate }

func (j *AggregateJob) Description() string {
	return fmt.Sprintf("Aggregate scan %s", j.aggregate)
}

// ConsumeJob scans the event log for one consumer.
type ConsumeJob struct {
	consumer  string
	processor *eventlog.Processor
}

// NewConsumeJob creates a scan job for consumer.
func NewConsumeJob(processor *eventlog.Processor, consumer string) *ConsumeJob {
	return &ConsumeJob{consumer: consumer, processor: processor}
}

func (j *ConsumeJob) Execute(ctx context.Context) error {
	res, err := j.processor.Consume(ctx, j.consumer)
	if err != nil {
		return fmt.Errorf("consume %s failed: %w", j.consumer, err)
	}
	log.Printf("Consumer %s: Events=%d, Folded=%d, Outcomes=%v", j.consumer, res.Events, res.Folded, res.Outcomes)
	return nil
}

func (j *ConsumeJob) Name() string { return JobConsume }

func (j *ConsumeJob) Description() string {
	return fmt.Sprintf("Event log scan for %s", j.consumer)
}

// EventJob handles one triggered event for one consumer.
type EventJob struct {
	eventID   string
	consumer  string
	processor *eventlog.Processor
}

func (j *EventJob) Execute(ctx context.Context) error {
	outcome, err := j.processor.HandleEvent(ctx, j.eventID, j.consumer)
	if err != nil {
		return fmt.Errorf("event %s for %s failed: %w", j.eventID, j.consumer, err)
	}
	if outcome != eventlog.Applied {
		log.Printf("Consumer %s: event %s %s", j.consumer, j.eventID, outcome)
	}
	return nil
}

func (j *EventJob) Name() string { return JobEvent }

func (j *EventJob) Description() string {
	return fmt.Sprintf("Event %s for %s", j.eventID, j.consumer)
}

// PoolDispatcher delivers event triggers through the worker pool, one job
// per consumer. It implements eventlog.Dispatcher.
type PoolDispatcher struct {
	pool      *WorkerPool
	processor *eventlog.Processor
	consumers []string
}

var _ eventlog.Dispatcher = (*PoolDispatcher)(nil)

// NewPoolDispatcher creates a dispatcher for consumers.
func NewPoolDispatcher(pool *WorkerPool, processor *eventlog.Processor, consumers []string) *PoolDispatcher {
	return &PoolDispatcher{pool: pool, processor: processor, consumers: consumers}
}

// Dispatch queues the event for every consumer. A dropped trigger is
// picked up by the next scheduled scan.
func (d *PoolDispatcher) Dispatch(_ context.Context, eventID string) error {
	var errs []error
	for _, c := range d.consumers {
		job := &EventJob{eventID: eventID, consumer: c, processor: d.processor}
		if err := d.pool.Submit(job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
