package event

import (
	"context"
	"errors"
)

// ErrVersionConflict is returned by Append when an event's
// (aggregate, version) pair already exists. A second writer got there
// first; the caller should reload the aggregate and retry.
var ErrVersionConflict = errors.New("event version conflict")

// Store persists and retrieves events.
type Store interface {
	// Append persists one or more events atomically. Returns
	// ErrVersionConflict if any (aggregate_id, version) already exists.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}
