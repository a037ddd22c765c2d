// Package subscription manages webhook registrations.
package subscription

import (
	"errors"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// ErrNotFound is returned when a subscription cannot be found.
var ErrNotFound = errors.New("hookrelay: subscription not found")

// Subscription is a webhook endpoint interested in one event type.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// ClientName identifies the receiving system.
	ClientName string `json:"clientName"`

	// EventType is the exact event type this subscription receives.
	EventType string `json:"eventType"`

	// TargetURL is the http(s) URL deliveries are POSTed to.
	TargetURL string `json:"targetUrl"`

	// Secret is the HMAC signing key. Generated once and never serialized.
	Secret string `json:"-"`

	// IsActive gates fan-out of new events to this subscription.
	IsActive bool `json:"isActive"`
}

// Registered is the registration response: the only view that carries the secret.
type Registered struct {
	*Subscription
	Secret string `json:"secret"`
}

// Input is the registration payload.
type Input struct {
	ClientName string `json:"clientName"`
	EventType  string `json:"eventType"`
	TargetURL  string `json:"targetUrl"`
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset    int
	Limit     int
	EventType string
	Active    *bool
}
