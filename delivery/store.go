package delivery

import (
	"context"
	"time"

	"github.com/xraph/hookrelay/id"
)

// QueueStore is the durable job table behind the Scheduler.
type QueueStore interface {
	// EnqueueJobs persists pending jobs atomically (fan-out).
	EnqueueJobs(ctx context.Context, jobs ...*Job) error

	// ClaimDueJobs moves up to limit pending jobs with NextRunAt <= now to
	// the claimed state and returns them, oldest NextRunAt first.
	// Implementations must never hand the same claim to two callers.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// RescheduleJob returns a claimed job to pending with its updated
	// Attempt and NextRunAt.
	RescheduleJob(ctx context.Context, job *Job) error

	// CompleteJob removes a job from the queue. Unknown IDs are a no-op.
	CompleteJob(ctx context.Context, jobID id.ID) error

	// ReleaseStaleJobs returns jobs claimed before claimedBefore to pending.
	ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time) (int64, error)

	// CountJobs returns the number of queued jobs, pending or claimed.
	CountJobs(ctx context.Context) (int64, error)
}

// RecordStore is the append-only delivery log.
type RecordStore interface {
	// AppendRecord writes one record atomically.
	AppendRecord(ctx context.Context, rec *Record) error

	// GetRecord returns a record by ID, or ErrRecordNotFound.
	GetRecord(ctx context.Context, recID id.ID) (*Record, error)

	// ListRecords returns matching records newest first.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)

	// CountRecords returns the number of matching records, ignoring paging.
	CountRecords(ctx context.Context, opts ListOpts) (int64, error)
}
