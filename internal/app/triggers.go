package app

import (
	"context"
	"fmt"
	"strings"

	"catalogsync/internal/domain/enrichment"
	"catalogsync/internal/interfaces/scheduler"
)

// Manual trigger names
const (
	TriggerReconcileAll = "reconcile-all"
	TriggerAggregateAll = "aggregate-all"
	TriggerConsume      = "consume-events"
)

// RegisterTriggers adds the configured schedules to s. Every trigger can
// also be fired by name through the job API.
func RegisterTriggers(s *scheduler.Scheduler, d *Dependencies) error {
	cfg := d.Config

	for i, batch := range cfg.Scheduler.SyncBatches {
		name := fmt.Sprintf("sync-batch-%d", i+1)
		job := scheduler.NewReconcileJob(d.Reconciler, batch.Targets, cfg.Sync.PageSize)
		if err := s.Register(name, batch.Spec, scheduler.Jobs(job)); err != nil {
			return err
		}
	}

	if err := s.Register(TriggerReconcileAll, "", d.reconcileAll); err != nil {
		return err
	}

	if err := s.Register("enrich-parallel", cfg.Scheduler.EnrichParallel,
		scheduler.Jobs(scheduler.NewEnrichJob(d.Enricher, enrichment.ModeParallel))); err != nil {
		return err
	}
	if err := s.Register("enrich-sequential", cfg.Scheduler.EnrichSequential,
		scheduler.Jobs(scheduler.NewEnrichJob(d.Enricher, enrichment.ModeSequential))); err != nil {
		return err
	}

	for _, agg := range cfg.Scheduler.Aggregations {
		jobs := make([]scheduler.Job, 0, len(agg.Targets))
		for _, name := range agg.Targets {
			if _, ok := d.Engine.Definition(name); !ok {
				return fmt.Errorf("scheduled aggregate %q is not defined", name)
			}
			jobs = append(jobs, scheduler.NewAggregateJob(d.Engine, name))
		}
		if err := s.Register("aggregate-"+strings.Join(agg.Targets, "-"), agg.Spec, scheduler.Jobs(jobs...)); err != nil {
			return err
		}
	}

	all := make([]scheduler.Job, 0)
	for _, name := range d.Engine.Names() {
		all = append(all, scheduler.NewAggregateJob(d.Engine, name))
	}
	if err := s.Register(TriggerAggregateAll, "", scheduler.Jobs(all...)); err != nil {
		return err
	}

	if d.Processor != nil {
		jobs := make([]scheduler.Job, 0, len(cfg.EventLog.Consumers))
		for _, c := range cfg.EventLog.Consumers {
			jobs = append(jobs, scheduler.NewConsumeJob(d.Processor, c))
		}
		if err := s.Register(TriggerConsume, cfg.Scheduler.ConsumeEvents, scheduler.Jobs(jobs...)); err != nil {
			return err
		}
	}
	return nil
}

// reconcileAll lists providers when it fires so newly seeded ones are included.
func (d *Dependencies) reconcileAll(ctx context.Context) ([]scheduler.Job, error) {
	providers, err := d.Stores.Providers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return []scheduler.Job{scheduler.NewReconcileJob(d.Reconciler, ids, d.Config.Sync.PageSize)}, nil
}
