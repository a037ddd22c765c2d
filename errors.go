package hookrelay

import (
	"errors"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/subscription"
)

// Sentinel errors returned by Relay operations.
var (
	// ErrNoStore is returned when a Relay is created without a store.
	ErrNoStore = errors.New("hookrelay: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("hookrelay: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("hookrelay: migration failed")

	// ErrAlreadyStarted is returned when Start is called on a running Relay.
	ErrAlreadyStarted = errors.New("hookrelay: already started")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = event.ErrNotFound

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrJobNotFound is returned when a queued job cannot be found.
	ErrJobNotFound = delivery.ErrJobNotFound

	// ErrRecordNotFound is returned when a delivery record cannot be found.
	ErrRecordNotFound = delivery.ErrRecordNotFound
)
