// Package dlq exposes the dead letter view of the delivery log and the
// operator-triggered manual retry.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
)

// ErrInvalidWindow is returned by RetryBulk when from is after to.
var ErrInvalidWindow = errors.New("hookrelay: invalid retry window")

// bulkPageSize bounds how many records RetryBulk reads per store call.
const bulkPageSize = 100

// ListOpts configures filtering and pagination for dead letter listing.
type ListOpts struct {
	Offset         int
	Limit          int
	SubscriptionID id.ID
	EventID        id.ID
	From           *time.Time
	To             *time.Time
}

func (o ListOpts) recordOpts() delivery.ListOpts {
	terminal := true
	return delivery.ListOpts{
		Offset:         o.Offset,
		Limit:          o.Limit,
		EventID:        o.EventID,
		SubscriptionID: o.SubscriptionID,
		Status:         delivery.RecordFailed,
		Terminal:       &terminal,
		From:           o.From,
		To:             o.To,
	}
}

// Service manages dead letters and manual retries.
type Service struct {
	store    Store
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// List returns terminal FAILED records, newest first.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*delivery.Record, error) {
	return svc.store.ListRecords(ctx, opts.recordOpts())
}

// Count returns the number of dead letters.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountRecords(ctx, ListOpts{}.recordOpts())
}

// Retry enqueues a fresh re-delivery of the (event, subscription) pair named
// by any delivery record. The new job starts at attempt 1, is due
// immediately and never changes the event's status.
func (svc *Service) Retry(ctx context.Context, recID id.ID) (*delivery.Job, error) {
	rec, err := svc.store.GetRecord(ctx, recID)
	if err != nil {
		return nil, err
	}
	return svc.enqueue(ctx, rec)
}

// RetryBulk retries every dead letter recorded within [from, to].
// It returns the number of jobs enqueued.
func (svc *Service) RetryBulk(ctx context.Context, from, to time.Time) (int64, error) {
	if from.After(to) {
		return 0, ErrInvalidWindow
	}

	opts := ListOpts{Limit: bulkPageSize, From: &from, To: &to}

	// Snapshot the window first so retries that fail again and land in
	// the same window are not picked up twice.
	var pending []*delivery.Record
	for {
		page, err := svc.List(ctx, opts)
		if err != nil {
			return 0, fmt.Errorf("dlq: list dead letters: %w", err)
		}
		pending = append(pending, page...)
		if len(page) < bulkPageSize {
			break
		}
		opts.Offset += len(page)
	}

	var n int64
	for _, rec := range pending {
		if _, err := svc.enqueue(ctx, rec); err != nil {
			return n, err
		}
		n++
	}

	svc.logger.InfoContext(ctx, "dead letters retried",
		"count", n, "from", from, "to", to)
	return n, nil
}

func (svc *Service) enqueue(ctx context.Context, rec *delivery.Record) (*delivery.Job, error) {
	job := delivery.NewJob(rec.EventID, rec.SubscriptionID, true, time.Now())
	if err := svc.enqueuer.Enqueue(ctx, job, 0); err != nil {
		return nil, fmt.Errorf("dlq: enqueue retry: %w", err)
	}

	svc.logger.InfoContext(ctx, "manual retry queued",
		"record_id", rec.ID,
		"job_id", job.ID,
		"event_id", rec.EventID,
		"subscription_id", rec.SubscriptionID,
	)
	return job, nil
}
