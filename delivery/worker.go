package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/observability"
	"github.com/xraph/hookrelay/subscription"
)

// WorkerStore is what a worker reads and writes while executing a job.
type WorkerStore interface {
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	MarkDelivered(ctx context.Context, evtID id.ID) error
	AppendRecord(ctx context.Context, rec *Record) error
}

// Throttle paces deliveries per key. ratelimit.Limiter satisfies it.
type Throttle interface {
	// Reserve takes a token for key and returns zero, or returns how long
	// until one is free without taking it.
	Reserve(key string) time.Duration
	// Reset drops the state kept for key.
	Reset(key string)
}

// WorkerConfig holds optional worker collaborators.
type WorkerConfig struct {
	Throttle Throttle
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// Worker executes one job end to end: load, sign, send, record, report.
type Worker struct {
	store     WorkerStore
	sender    *Sender
	scheduler *Scheduler
	config    WorkerConfig
	logger    *slog.Logger
}

// NewWorker creates a worker.
func NewWorker(store WorkerStore, sender *Sender, scheduler *Scheduler, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		sender:    sender,
		scheduler: scheduler,
		config:    cfg,
		logger:    logger,
	}
}

// Execute runs a claimed job and reports the outcome to the scheduler.
//
// Delivery failures never surface as errors: they become a FAILED record and
// a scheduler decision. A nil Outcome with a nil error means the throttle
// deferred the job; it went back to the queue without spending an attempt.
//
// An error with a nil Outcome means the store could not be read or the
// record could not be written; the job is released without spending an
// attempt. An error with an Outcome means the attempt was recorded but the
// queue could not be updated. The record then already carries its Terminal
// flag while the job keeps its claim, and the stale-claim sweep runs it again.
func (w *Worker) Execute(ctx context.Context, job *Job) (Outcome, error) {
	var span trace.Span
	if w.config.Tracer != nil {
		ctx, span = w.config.Tracer.StartDeliverySpan(ctx,
			job.ID.String(), job.EventID.String(), job.SubscriptionID.String(), job.Attempt)
	}

	out, code, err := w.attempt(ctx, job)
	if out == nil && err != nil {
		w.release(ctx, job)
	}

	if span != nil {
		msg := ""
		switch {
		case err != nil:
			msg = err.Error()
		default:
			if f, ok := out.(Failure); ok {
				msg = f.Message
			}
		}
		w.config.Tracer.EndDeliverySpan(span, code, msg)
	}
	return out, err
}

func (w *Worker) attempt(ctx context.Context, job *Job) (Outcome, int, error) {
	log := w.logger.With(
		"job_id", job.ID,
		"event_id", job.EventID,
		"subscription_id", job.SubscriptionID,
		"attempt", job.Attempt,
	)

	evt, sub, err := w.load(ctx, job)

	var out Outcome
	switch {
	case err == nil:
		if w.config.Throttle != nil {
			if delay := w.config.Throttle.Reserve(sub.ID.String()); delay > 0 {
				// Never hold a claim while waiting for a token.
				if err := w.scheduler.Release(ctx, job, delay); err != nil {
					log.ErrorContext(ctx, "release throttled job failed", "error", err)
				}
				log.DebugContext(ctx, "delivery throttled", "delay", delay)
				return nil, 0, nil
			}
		}
		start := time.Now()
		out = w.sender.Send(ctx, sub, evt, job.Attempt)
		w.observe(out, time.Since(start))

	case errors.Is(err, event.ErrNotFound), errors.Is(err, subscription.ErrNotFound):
		if w.config.Throttle != nil && errors.Is(err, subscription.ErrNotFound) {
			w.config.Throttle.Reset(job.SubscriptionID.String())
		}
		out = Failure{Message: err.Error(), Reason: ReasonMissingReference}

	default:
		return nil, 0, fmt.Errorf("delivery: load job references: %w", err)
	}

	rec := NewRecord(job, out, w.scheduler.IsFinal(job, out))
	if err := w.store.AppendRecord(ctx, rec); err != nil {
		return nil, 0, fmt.Errorf("delivery: append record: %w", err)
	}

	code := 0
	if s, ok := out.(Success); ok {
		code = s.StatusCode
		// Only the original fan-out job may advance the event.
		if !job.IsRetry {
			if err := w.store.MarkDelivered(ctx, job.EventID); err != nil {
				log.ErrorContext(ctx, "mark event delivered failed", "error", err)
			}
		}
	}

	decision, err := w.scheduler.ReportOutcome(ctx, job, out)
	if err != nil {
		return out, code, fmt.Errorf("delivery: report outcome for record %s: %w", rec.ID, err)
	}

	switch o := out.(type) {
	case Success:
		log.DebugContext(ctx, "delivered", "status", o.StatusCode, "retry", job.IsRetry)
	case Failure:
		switch decision {
		case Terminal:
			log.WarnContext(ctx, "delivery failed permanently",
				"reason", o.Reason.String(), "error", o.Message)
		default:
			log.InfoContext(ctx, "delivery failed, retry scheduled",
				"error", o.Message, "next_run_at", job.NextRunAt)
		}
	}
	return out, code, nil
}

func (w *Worker) load(ctx context.Context, job *Job) (*event.Event, *subscription.Subscription, error) {
	evt, err := w.store.GetEvent(ctx, job.EventID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := w.store.GetSubscription(ctx, job.SubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	return evt, sub, nil
}

func (w *Worker) release(ctx context.Context, job *Job) {
	if err := w.scheduler.Release(ctx, job, w.scheduler.Backoff(1)); err != nil {
		w.logger.ErrorContext(ctx, "release job failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) observe(out Outcome, latency time.Duration) {
	if w.config.Metrics == nil {
		return
	}
	status := "failed"
	if _, ok := out.(Success); ok {
		status = "success"
	}
	w.config.Metrics.RecordDelivery(status, latency.Seconds())
}
