package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"catalogsync/internal/domain/aggregation"
)

// DefaultLeaseTTL must exceed the worst-case fold latency of one event.
const DefaultLeaseTTL = 2 * time.Minute

const defaultBatchSize = 100

// Outcome is what HandleEvent did with an (event, consumer) pair.
type Outcome string

const (
	Applied         Outcome = "applied"
	SkippedDone     Outcome = "skipped_done"
	SkippedLeased   Outcome = "skipped_leased"
	SkippedConsumed Outcome = "skipped_consumed"
)

var (
	eventMeter       = otel.Meter("catalogsync/eventlog")
	eventOutcomes, _ = eventMeter.Int64Counter("eventlog.outcomes.total", metric.WithDescription("Event handling outcomes by consumer"))
)

// ConsumeResult summarizes one scan pass of a consumer.
type ConsumeResult struct {
	Consumer string          `json:"consumer"`
	Events   int             `json:"events"`
	Outcomes map[Outcome]int `json:"outcomes"`
	Folded   int             `json:"folded"`
}

// Processor folds logged events into aggregates. A consumer name is the name
// of the aggregate it feeds.
type Processor struct {
	events    EventStore
	leases    LeaseStore
	engine    *aggregation.Engine
	ttl       time.Duration
	batchSize int
	now       func() time.Time
	newOwner  func() string
}

// NewProcessor creates a processor. A zero ttl uses DefaultLeaseTTL.
func NewProcessor(events EventStore, leases LeaseStore, engine *aggregation.Engine, ttl time.Duration) *Processor {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Processor{
		events:    events,
		leases:    leases,
		engine:    engine,
		ttl:       ttl,
		batchSize: defaultBatchSize,
		now:       time.Now,
		newOwner:  uuid.NewString,
	}
}

// ConsumerDefinition returns the aggregate consumer feeds, or an error when
// it is unknown or needs enriched items.
func ConsumerDefinition(engine *aggregation.Engine, consumer string) (aggregation.Definition, error) {
	def, ok := engine.Definition(consumer)
	if !ok {
		return def, fmt.Errorf("%w: %s", aggregation.ErrUnknownAggregate, consumer)
	}
	if def.RequireDetail {
		return def, fmt.Errorf("%w: %s", ErrDetailConsumer, consumer)
	}
	return def, nil
}

// Consume folds every event consumer has not seen yet, oldest first.
func (p *Processor) Consume(ctx context.Context, consumer string) (*ConsumeResult, error) {
	if _, err := ConsumerDefinition(p.engine, consumer); err != nil {
		return nil, err
	}

	result := &ConsumeResult{Consumer: consumer, Outcomes: make(map[Outcome]int)}
	for {
		batch, err := p.events.ListUnconsumed(ctx, consumer, p.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list events for %s: %w", consumer, err)
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, ev := range batch {
			outcome, folded, err := p.handle(ctx, ev, consumer)
			if err != nil {
				return result, err
			}
			result.Events++
			result.Outcomes[outcome]++
			result.Folded += folded
			if outcome == Applied || outcome == SkippedConsumed || outcome == SkippedDone {
				progressed = true
			}
		}
		// Everything left is leased by a concurrent invocation.
		if !progressed {
			break
		}
	}

	log.Printf("Consumer %s: handled %d events, folded %d contributions (%v)",
		consumer, result.Events, result.Folded, result.Outcomes)
	return result, nil
}

// HandleEvent is the trigger path for one event and consumer.
func (p *Processor) HandleEvent(ctx context.Context, eventID, consumer string) (Outcome, error) {
	if _, err := ConsumerDefinition(p.engine, consumer); err != nil {
		return "", err
	}
	ev, err := p.events.Get(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("failed to load event %s: %w", eventID, err)
	}
	outcome, _, err := p.handle(ctx, ev, consumer)
	return outcome, err
}

func (p *Processor) handle(ctx context.Context, ev *Event, consumer string) (Outcome, int, error) {
	outcome, folded, err := p.fold(ctx, ev, consumer)
	if err == nil {
		eventOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("consumer", consumer),
			attribute.String("outcome", string(outcome)),
		))
	}
	return outcome, folded, err
}

func (p *Processor) fold(ctx context.Context, ev *Event, consumer string) (Outcome, int, error) {
	if ev.HasConsumer(consumer) {
		return SkippedConsumed, 0, nil
	}
	if ev.Item == nil {
		return "", 0, fmt.Errorf("event %s has no item snapshot", ev.ID)
	}

	key := LeaseKey(ev.ID, consumer)
	owner := p.newOwner()
	if err := p.leases.Acquire(ctx, key, owner, p.ttl, p.now()); err != nil {
		switch {
		case errors.Is(err, ErrLeaseDone):
			// Completed but the consumer set write was lost; repair it.
			if err := p.events.MarkConsumed(ctx, ev.ID, consumer); err != nil {
				return "", 0, fmt.Errorf("failed to mark event %s consumed by %s: %w", ev.ID, consumer, err)
			}
			return SkippedDone, 0, nil
		case errors.Is(err, ErrLeaseHeld):
			return SkippedLeased, 0, nil
		default:
			return "", 0, fmt.Errorf("failed to acquire lease %s: %w", key, err)
		}
	}

	def, _ := p.engine.Definition(consumer)
	fr, err := p.engine.Fold(ctx, def, ev.Item)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fold event %s into %s: %w", ev.ID, consumer, err)
	}

	if err := p.events.MarkConsumed(ctx, ev.ID, consumer); err != nil {
		return "", 0, fmt.Errorf("failed to mark event %s consumed by %s: %w", ev.ID, consumer, err)
	}

	if err := p.leases.Complete(ctx, key, owner); err != nil {
		// The fold is committed and the bucket ledger keeps it single.
		log.Printf("Event %s: failed to complete lease for %s: %v", ev.ID, consumer, err)
	}
	return Applied, fr.Folded, nil
}
