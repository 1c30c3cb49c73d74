package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-checkout/internal/events"
)

// Events persists domain events.
type Events struct {
	db DB
}

// NewEvents constructs an Events repository.
func NewEvents(db DB) *Events {
	return &Events{db: db}
}

var _ events.EventStore = (*Events)(nil)

// InsertEvent stores an event and returns it with its generated id and timestamp.
func (e *Events) InsertEvent(ctx context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	if e == nil || e.db == nil {
		return events.Event{}, ErrUnavailable
	}
	ev := events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID}
	err := e.db.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4) RETURNING payload, occurred_at`, ev.ID, topic, aggregateID, payload).Scan(&ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}
