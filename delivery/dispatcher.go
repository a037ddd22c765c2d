package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/subscription"
)

// SubscriptionResolver finds the subscribers of an event type.
type SubscriptionResolver interface {
	ResolveActive(ctx context.Context, eventType string) ([]*subscription.Subscription, error)
}

// Dispatcher fans one event out into one job per active subscription.
type Dispatcher struct {
	resolver  SubscriptionResolver
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewDispatcher creates a fan-out dispatcher.
func NewDispatcher(resolver SubscriptionResolver, scheduler *Scheduler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		resolver:  resolver,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Dispatch creates a first-attempt job for every active subscription whose
// event type equals evt.Type. No subscribers is not an error: the event
// simply stays PENDING.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *event.Event) ([]*Job, error) {
	subs, err := d.resolver.ResolveActive(ctx, evt.Type)
	if err != nil {
		return nil, fmt.Errorf("delivery: resolve subscriptions: %w", err)
	}

	if len(subs) == 0 {
		d.logger.DebugContext(ctx, "no active subscriptions",
			"event_id", evt.ID, "event_type", evt.Type)
		return nil, nil
	}

	now := time.Now().UTC()
	jobs := make([]*Job, 0, len(subs))
	for _, sub := range subs {
		jobs = append(jobs, NewJob(evt.ID, sub.ID, false, now))
	}

	if err := d.scheduler.EnqueueBatch(ctx, jobs); err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "event dispatched",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"subscriptions", len(subs),
	)
	return jobs, nil
}
