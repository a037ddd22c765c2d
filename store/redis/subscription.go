package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID         string    `json:"id"`
	ClientName string    `json:"client_name"`
	EventType  string    `json:"event_type"`
	TargetURL  string    `json:"target_url"`
	Secret     string    `json:"secret"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:         sub.ID.String(),
		ClientName: sub.ClientName,
		EventType:  sub.EventType,
		TargetURL:  sub.TargetURL,
		Secret:     sub.Secret,
		IsActive:   sub.IsActive,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         subID,
		ClientName: m.ClientName,
		EventType:  m.EventType,
		TargetURL:  m.TargetURL,
		Secret:     m.Secret,
		IsActive:   m.IsActive,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSubscription, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("hookrelay/redis: create subscription: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zSubType+m.EventType, goredis.Z{Score: score, Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) getSubscriptionModel(ctx context.Context, subID string) (*subscriptionModel, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
		if isNotFound(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("hookrelay/redis: get subscription: %w", err)
	}
	return &m, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	index := zSubAll
	if opts.EventType != "" {
		index = zSubType + opts.EventType
	}

	ids, err := s.zRangeByScoreIDs(ctx, index, math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, fmt.Errorf("hookrelay/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		m, err := s.getSubscriptionModel(ctx, subID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && m.IsActive != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}
	m.IsActive = active
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("hookrelay/redis: set active: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, entityKey(prefixSubscription, m.ID)); err != nil {
		return fmt.Errorf("hookrelay/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubAll, m.ID)
	pipe.ZRem(ctx, zSubType+m.EventType, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ResolveActive(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	active := true
	return s.ListSubscriptions(ctx, subscription.ListOpts{EventType: eventType, Active: &active})
}
