package subscription

import (
	"context"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID, or ErrNotFound.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// ListSubscriptions returns subscriptions oldest first.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	// SetActive enables or disables a subscription.
	SetActive(ctx context.Context, subID id.ID, active bool) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ResolveActive returns active subscriptions whose event type equals eventType.
	ResolveActive(ctx context.Context, eventType string) ([]*Subscription, error)
}
