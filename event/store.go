package event

import (
	"context"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// CreateEvent persists an event. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID, or ErrNotFound.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// CountEvents returns the total number of events.
	CountEvents(ctx context.Context) (int64, error)

	// MarkDelivered moves a PENDING event to DELIVERED. Calling it on an
	// already delivered event is a no-op.
	MarkDelivered(ctx context.Context, evtID id.ID) error
}
