package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/hookrelay/observability"
)

// Decision is what the scheduler did with a job after an attempt.
type Decision int

const (
	// Completed means the attempt succeeded and the job left the queue.
	Completed Decision = iota

	// Rescheduled means the job sleeps in the queue until its backoff expires.
	Rescheduled

	// Terminal means the job failed for good and left the queue.
	Terminal
)

// String returns the decision name used in logs.
func (d Decision) String() string {
	switch d {
	case Completed:
		return "completed"
	case Rescheduled:
		return "rescheduled"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Defaults for SchedulerConfig.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 5 * time.Second
)

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Metrics     *observability.Metrics
}

// Scheduler admits jobs to the queue, hands due jobs to workers and applies
// the backoff policy to reported outcomes.
type Scheduler struct {
	queue       QueueStore
	maxAttempts int
	baseDelay   time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewScheduler creates a scheduler over queue.
func NewScheduler(queue QueueStore, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	return &Scheduler{
		queue:       queue,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// MaxAttempts returns the attempt budget of a job lineage.
func (s *Scheduler) MaxAttempts() int { return s.maxAttempts }

// Enqueue admits job to run at now + delay.
func (s *Scheduler) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	job.State = JobPending
	job.ClaimedAt = nil
	job.NextRunAt = time.Now().UTC().Add(delay)
	return s.EnqueueBatch(ctx, []*Job{job})
}

// EnqueueBatch admits jobs as they are, in one store call.
func (s *Scheduler) EnqueueBatch(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := s.queue.EnqueueJobs(ctx, jobs...); err != nil {
		return fmt.Errorf("delivery: enqueue jobs: %w", err)
	}
	if s.metrics != nil {
		s.metrics.JobsEnqueuedTotal.Add(float64(len(jobs)))
		s.metrics.PendingJobs.Add(float64(len(jobs)))
	}
	return nil
}

// DequeueDue claims up to limit runnable jobs. It never blocks.
func (s *Scheduler) DequeueDue(ctx context.Context, limit int) ([]*Job, error) {
	return s.queue.ClaimDueJobs(ctx, time.Now().UTC(), limit)
}

// Backoff returns the delay after the given failed attempt:
// baseDelay * 2^(attempt-1).
func (s *Scheduler) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return s.baseDelay << (attempt - 1)
}

// IsFinal reports whether out ends job's lineage: a success, a failure that
// cannot be retried, or a failure on the last budgeted attempt.
func (s *Scheduler) IsFinal(job *Job, out Outcome) bool {
	f, ok := out.(Failure)
	if !ok {
		return true
	}
	return !f.Retryable() || job.Attempt >= s.maxAttempts
}

// ReportOutcome applies the retry policy to job after an attempt.
func (s *Scheduler) ReportOutcome(ctx context.Context, job *Job, out Outcome) (Decision, error) {
	switch o := out.(type) {
	case Success:
		return Completed, s.complete(ctx, job)

	case Failure:
		if s.IsFinal(job, o) {
			if err := s.complete(ctx, job); err != nil {
				return Terminal, err
			}
			if s.metrics != nil {
				s.metrics.TerminalFailuresTotal.WithLabelValues(o.Reason.String()).Inc()
			}
			return Terminal, nil
		}

		delay := s.Backoff(job.Attempt)
		job.Attempt++
		job.NextRunAt = time.Now().UTC().Add(delay)
		job.State = JobPending
		job.ClaimedAt = nil
		if err := s.queue.RescheduleJob(ctx, job); err != nil {
			return Rescheduled, fmt.Errorf("delivery: reschedule job %s: %w", job.ID, err)
		}
		return Rescheduled, nil

	default:
		return 0, fmt.Errorf("delivery: unknown outcome %T", out)
	}
}

// Release puts a claimed job back without spending an attempt.
func (s *Scheduler) Release(ctx context.Context, job *Job, delay time.Duration) error {
	job.State = JobPending
	job.ClaimedAt = nil
	job.NextRunAt = time.Now().UTC().Add(delay)
	if err := s.queue.RescheduleJob(ctx, job); err != nil {
		return fmt.Errorf("delivery: release job %s: %w", job.ID, err)
	}
	return nil
}

// RecoverStale releases claims older than claimTimeout, left behind by a
// worker that died mid-job.
func (s *Scheduler) RecoverStale(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	n, err := s.queue.ReleaseStaleJobs(ctx, time.Now().UTC().Add(-claimTimeout))
	if err != nil {
		return 0, fmt.Errorf("delivery: release stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "released stale job claims", "count", n)
	}
	return n, nil
}

// SyncGauge resets the pending-jobs gauge from the store.
func (s *Scheduler) SyncGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.queue.CountJobs(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "count jobs failed", "error", err)
		return
	}
	s.metrics.PendingJobs.Set(float64(n))
}

func (s *Scheduler) complete(ctx context.Context, job *Job) error {
	if err := s.queue.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("delivery: complete job %s: %w", job.ID, err)
	}
	if s.metrics != nil {
		s.metrics.PendingJobs.Dec()
	}
	return nil
}
