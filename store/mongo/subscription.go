package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}

		return nil, fmt.Errorf("hookrelay/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// ListSubscriptions returns subscriptions oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{}
	if opts.EventType != "" {
		filter["event_type"] = opts.EventType
	}

	if opts.Active != nil {
		filter["is_active"] = *opts.Active
	}

	return s.findSubscriptions(ctx, filter, opts.Offset, opts.Limit)
}

// SetActive enables or disables a subscription.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("is_active", active).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: set active: %w", err)
	}

	if res.MatchedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// ResolveActive returns active subscriptions for eventType, oldest first.
func (s *Store) ResolveActive(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	return s.findSubscriptions(ctx, bson.M{"event_type": eventType, "is_active": true}, 0, 0)
}

func (s *Store) findSubscriptions(ctx context.Context, filter bson.M, offset, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if offset > 0 {
		q = q.Skip(int64(offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookrelay/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}
