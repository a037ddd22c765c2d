// Package store defines the composite Store interface for all hookrelay persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them all.
package store

import (
	"context"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	event.Store
	subscription.Store
	delivery.QueueStore
	delivery.RecordStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
