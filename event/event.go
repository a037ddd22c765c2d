// Package event defines the business facts relayed to webhook subscribers.
package event

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// ErrNotFound is returned when an event cannot be found.
var ErrNotFound = errors.New("hookrelay: event not found")

// Status is the delivery status of an event.
type Status string

const (
	// StatusPending means no original fan-out job has succeeded yet.
	StatusPending Status = "PENDING"

	// StatusDelivered means at least one original fan-out job succeeded.
	StatusDelivered Status = "DELIVERED"

	// StatusFailed is part of the data model but never written by the engine.
	StatusFailed Status = "FAILED"
)

// Event is an immutable business fact submitted for delivery.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the event type name (e.g. "application.created").
	Type string `json:"eventType"`

	// Payload is the opaque JSON document forwarded byte-for-byte to subscribers.
	Payload json.RawMessage `json:"payload"`

	// Status moves from PENDING to DELIVERED at most once.
	Status Status `json:"status"`
}

// Input is the ingestion payload for new events.
type Input struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the shape of the input that does not depend on schemas.
func (in Input) Validate() error {
	if strings.TrimSpace(in.EventType) == "" {
		return &ValidationError{Field: "eventType", Message: "invalid or missing"}
	}
	if len(in.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "invalid or missing"}
	}
	return nil
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	Status Status
}

// ValidationError indicates invalid ingestion input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "event validation: " + e.Field + ": " + e.Message
}
