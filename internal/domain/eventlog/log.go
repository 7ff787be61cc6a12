package eventlog

import (
	"context"
	"fmt"
	"log"
	"time"

	"catalogsync/internal/domain/catalog"
)

// Log is the ingestion side of the event log.
type Log struct {
	events     EventStore
	dispatcher Dispatcher
	now        func() time.Time
}

// NewLog creates a log over events.
func NewLog(events EventStore) *Log {
	return &Log{events: events, now: time.Now}
}

// SetDispatcher registers the trigger delivered after each new append.
func (l *Log) SetDispatcher(d Dispatcher) {
	l.dispatcher = d
}

// OnItemCreated appends the creation event for item. Appending the same item
// again is a no-op and does not re-dispatch.
func (l *Log) OnItemCreated(ctx context.Context, item *catalog.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	ev := NewItemCreated(item, l.now())
	created, err := l.events.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to append creation event for %s: %w", item.ItemID, err)
	}
	if !created || l.dispatcher == nil {
		return nil
	}

	// Delivery failures leave the event for the next scan pass.
	if err := l.dispatcher.Dispatch(ctx, ev.ID); err != nil {
		log.Printf("Event %s: dispatch failed: %v", ev.ID, err)
	}
	return nil
}
