package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"catalogsync/internal/domain/catalog"
	"catalogsync/internal/domain/eventlog"
)

// EventStore implements eventlog.EventStore. Inserts fire the
// catalog_events NOTIFY trigger.
type EventStore struct {
	db *DB
}

var _ eventlog.EventStore = (*EventStore)(nil)

// NewEventStore creates a new PostgreSQL event store
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, ev *eventlog.Event) (bool, error) {
	snapshot, err := json.Marshal(ev.Item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event item: %w", err)
	}
	consumers := ev.Consumers
	if consumers == nil {
		consumers = []string{}
	}

	query := `
		INSERT INTO catalog_events (id, type, item_id, item, consumers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Type, ev.ItemID, snapshot, pq.Array(consumers), ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *EventStore) Get(ctx context.Context, eventID string) (*eventlog.Event, error) {
	query := `SELECT id, type, item_id, item, consumers, created_at FROM catalog_events WHERE id = $1`

	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, eventID))
	if isNoRows(err) {
		return nil, eventlog.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (s *EventStore) ListUnconsumed(ctx context.Context, consumer string, limit int) ([]*eventlog.Event, error) {
	query := `
		SELECT id, type, item_id, item, consumers, created_at FROM catalog_events
		WHERE NOT ($1 = ANY(consumers))
		ORDER BY created_at, id
		LIMIT NULLIF($2::int, 0)
	`
	rows, err := s.db.QueryContext(ctx, query, consumer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*eventlog.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func (s *EventStore) MarkConsumed(ctx context.Context, eventID, consumer string) error {
	query := `
		UPDATE catalog_events
		SET consumers = CASE WHEN $2 = ANY(consumers) THEN consumers ELSE array_append(consumers, $2) END
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, eventID, consumer)
	if err != nil {
		return fmt.Errorf("failed to mark event consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return eventlog.ErrEventNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*eventlog.Event, error) {
	var ev eventlog.Event
	var snapshot []byte
	var consumers pq.StringArray
	var createdAt time.Time
	if err := row.Scan(&ev.ID, &ev.Type, &ev.ItemID, &snapshot, &consumers, &createdAt); err != nil {
		return nil, err
	}
	var item catalog.Item
	if err := json.Unmarshal(snapshot, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event item: %w", err)
	}
	ev.Item = &item
	ev.Consumers = []string(consumers)
	if ev.Consumers == nil {
		ev.Consumers = []string{}
	}
	ev.CreatedAt = createdAt.UTC()
	return &ev, nil
}
