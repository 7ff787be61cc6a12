// Package eventlog records item creations in an append-only log that
// independently paced aggregate consumers fold at their own cadence.
package eventlog

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"catalogsync/internal/domain/catalog"
)

// TypeItemCreated is the only event type written by the log.
const TypeItemCreated = "item.created"

// Domain errors
var (
	ErrEventNotFound = errors.New("event not found")

	// ErrLeaseHeld means another invocation owns an unexpired lease.
	ErrLeaseHeld = errors.New("lease held by another owner")
	// ErrLeaseDone means the guarded work already completed.
	ErrLeaseDone = errors.New("lease already completed")
	// ErrLeaseLost is returned by Complete when the caller no longer owns the lease.
	ErrLeaseLost = errors.New("lease no longer owned")

	// ErrDetailConsumer rejects aggregates that need enriched items; creation
	// snapshots are taken before enrichment.
	ErrDetailConsumer = errors.New("aggregate needs enriched items and cannot consume creation events")
)

// eventNamespace scopes deterministic event ids.
var eventNamespace = uuid.MustParse("6f1c1f4e-3c1e-4d7b-9a55-2f0b8f7d9c11")

// Event is an immutable log entry. Only Consumers changes after the append,
// and it only grows.
type Event struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	ItemID    string        `json:"itemId"`
	Item      *catalog.Item `json:"item"`
	Consumers []string      `json:"consumers"`
	CreatedAt time.Time     `json:"createdAt"`
}

// HasConsumer reports whether consumer already folded the event.
func (e *Event) HasConsumer(consumer string) bool {
	return slices.Contains(e.Consumers, consumer)
}

// EventID returns the deterministic id of the creation event for itemID.
func EventID(itemID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(TypeItemCreated+"/"+itemID)).String()
}

// NewItemCreated builds the creation event for item with a snapshot copy.
func NewItemCreated(item *catalog.Item, now time.Time) *Event {
	return &Event{
		ID:        EventID(item.ItemID),
		Type:      TypeItemCreated,
		ItemID:    item.ItemID,
		Item:      item.Clone(),
		Consumers: []string{},
		CreatedAt: now.UTC(),
	}
}

// LeaseKey is the lease guarding one (event, consumer) pair.
func LeaseKey(eventID, consumer string) string {
	return eventID + "/" + consumer
}

// EventStore is the append-only event log.
type EventStore interface {
	// Append stores ev unless an event with the same id exists. It reports
	// whether the event was new.
	Append(ctx context.Context, ev *Event) (bool, error)

	// Get returns ErrEventNotFound for an unknown id.
	Get(ctx context.Context, eventID string) (*Event, error)

	// ListUnconsumed returns up to limit events that consumer has not
	// folded yet, oldest first.
	ListUnconsumed(ctx context.Context, consumer string, limit int) ([]*Event, error)

	// MarkConsumed adds consumer to the event's consumer set.
	MarkConsumed(ctx context.Context, eventID, consumer string) error
}

// Lease is a time-bounded claim on a key.
type Lease struct {
	Key    string    `json:"key"`
	Owner  string    `json:"owner"`
	Expiry time.Time `json:"leaseExpiry"`
	Done   bool      `json:"done"`
}

// LeaseStore grants exclusive, expiring leases.
type LeaseStore interface {
	// Acquire claims key for owner until now+ttl. It fails with ErrLeaseDone
	// when the key was completed and ErrLeaseHeld while another owner's
	// lease is unexpired. An expired lease is taken over.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) error

	// Complete marks key done if owner still holds it, else ErrLeaseLost.
	Complete(ctx context.Context, key, owner string) error
}

// Dispatcher delivers the trigger for a newly appended event.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventID string) error
}
