package hookrelay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookrelay/catalog"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/ratelimit"
	"github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/subscription"
)

// Stats is a point-in-time summary of the relay.
type Stats struct {
	TotalEvents     int64 `json:"totalEvents"`
	TotalDeliveries int64 `json:"totalDeliveries"`
	PendingJobs     int64 `json:"pendingJobs"`
	DeadLetters     int64 `json:"deadLetters"`
}

// wireServices initializes the internal services after options have been applied.
func (r *Relay) wireServices() error {
	r.catalog = catalog.New(r.logger)
	for eventType, schema := range r.schemas {
		if err := r.catalog.Register(eventType, schema); err != nil {
			return err
		}
	}

	r.subscriptionSvc = subscription.NewService(r.store, r.logger)

	r.scheduler = delivery.NewScheduler(r.store, delivery.SchedulerConfig{
		MaxAttempts: r.config.MaxAttempts,
		BaseDelay:   r.config.BaseDelay,
		Metrics:     r.metrics,
	}, r.logger)

	r.dispatcher = delivery.NewDispatcher(r.store, r.scheduler, r.logger)

	workerCfg := delivery.WorkerConfig{
		Metrics: r.metrics,
		Tracer:  r.tracer,
	}
	if r.config.RateLimit > 0 {
		workerCfg.Throttle = ratelimit.New(r.config.RateLimit, 0)
	}
	worker := delivery.NewWorker(r.store, delivery.NewSender(r.config.RequestTimeout), r.scheduler, workerCfg, r.logger)

	r.engine = delivery.NewEngine(r.scheduler, worker, delivery.EngineConfig{
		Concurrency:  r.config.Concurrency,
		PollInterval: r.config.PollInterval,
		BatchSize:    r.config.BatchSize,
		ClaimTimeout: r.config.ClaimTimeout,
	}, r.logger)

	r.dlqSvc = dlq.NewService(r.store, r.scheduler, r.logger)
	return nil
}

// Start begins the delivery engine.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.engine.Start(ctx)
	r.logger.InfoContext(ctx, "delivery engine started",
		"concurrency", r.config.Concurrency,
		"max_attempts", r.scheduler.MaxAttempts(),
	)
	return nil
}

// Stop gracefully shuts down the delivery engine, waiting at most
// ShutdownTimeout for in-flight deliveries.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false

	ctx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()
	return r.engine.Stop(ctx)
}

// Ingest validates and persists an event, then fans it out to every active
// subscription of its type.
//
// The critical path:
//  1. Validate the input shape and the payload schema.
//  2. Persist the event as PENDING.
//  3. Create one job per matching active subscription.
//  4. Wake the engine so the jobs run without waiting for the next poll.
func (r *Relay) Ingest(ctx context.Context, in event.Input) (*event.Event, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := r.catalog.Validate(in.EventType, in.Payload); err != nil {
		return nil, &event.ValidationError{Field: "payload", Message: err.Error()}
	}

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.StartIngestSpan(ctx, in.EventType)
		defer span.End()
	}

	evt, err := r.ingest(ctx, in)
	if err != nil && span != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return evt, err
}

func (r *Relay) ingest(ctx context.Context, in event.Input) (*event.Event, error) {
	evt := &event.Event{
		Entity:  entity.New(),
		ID:      id.NewEventID(),
		Type:    in.EventType,
		Payload: in.Payload,
		Status:  event.StatusPending,
	}

	if err := r.store.CreateEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("hookrelay: persist event: %w", err)
	}
	if r.metrics != nil {
		r.metrics.EventsIngestedTotal.Inc()
	}

	jobs, err := r.dispatcher.Dispatch(ctx, evt)
	if err != nil {
		return evt, fmt.Errorf("hookrelay: fan out event %s: %w", evt.ID, err)
	}
	if len(jobs) > 0 {
		r.engine.Wake()
	}

	r.logger.DebugContext(ctx, "event ingested",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"jobs", len(jobs),
	)
	return evt, nil
}

// Retry re-enqueues the (event, subscription) pair of any delivery record.
func (r *Relay) Retry(ctx context.Context, recordID id.ID) (*delivery.Job, error) {
	job, err := r.dlqSvc.Retry(ctx, recordID)
	if err != nil {
		return nil, err
	}
	r.engine.Wake()
	return job, nil
}

// RetryBulk re-enqueues every dead letter created within [from, to].
func (r *Relay) RetryBulk(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := r.dlqSvc.RetryBulk(ctx, from, to)
	if n > 0 {
		r.engine.Wake()
	}
	return n, err
}

// Wake nudges the delivery engine to poll immediately.
func (r *Relay) Wake() {
	r.engine.Wake()
}

// Event returns an event by ID.
func (r *Relay) Event(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return r.store.GetEvent(ctx, evtID)
}

// Events lists events newest first.
func (r *Relay) Events(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return r.store.ListEvents(ctx, opts)
}

// Records queries the delivery log, newest first.
func (r *Relay) Records(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	return r.store.ListRecords(ctx, opts)
}

// Stats counts events, delivery records, queued jobs and dead letters.
func (r *Relay) Stats(ctx context.Context) (*Stats, error) {
	events, err := r.store.CountEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("hookrelay: count events: %w", err)
	}
	records, err := r.store.CountRecords(ctx, delivery.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("hookrelay: count records: %w", err)
	}
	jobs, err := r.store.CountJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hookrelay: count jobs: %w", err)
	}
	dead, err := r.dlqSvc.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("hookrelay: count dead letters: %w", err)
	}
	return &Stats{
		TotalEvents:     events,
		TotalDeliveries: records,
		PendingJobs:     jobs,
		DeadLetters:     dead,
	}, nil
}

// Health pings the store.
func (r *Relay) Health(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Subscriptions returns the subscription management service.
func (r *Relay) Subscriptions() *subscription.Service {
	return r.subscriptionSvc
}

// Catalog returns the payload schema catalog.
func (r *Relay) Catalog() *catalog.Catalog {
	return r.catalog
}

// Store returns the underlying store.
func (r *Relay) Store() store.Store {
	return r.store
}

// DLQ returns the dead letter service.
func (r *Relay) DLQ() *dlq.Service {
	return r.dlqSvc
}
