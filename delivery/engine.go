package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	// ClaimTimeout is how long a claim may stay unreported before the job
	// is handed out again. Jobs are claimed only when a worker is idle and
	// are never throttled while claimed, so it must only exceed the request
	// timeout.
	ClaimTimeout time.Duration
}

// Engine is the delivery worker pool: it pulls due jobs from the scheduler
// and runs each one on a worker goroutine.
type Engine struct {
	scheduler *Scheduler
	worker    *Worker
	config    EngineConfig
	logger    *slog.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(scheduler *Scheduler, worker *Worker, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Concurrency
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = time.Minute
	}
	return &Engine{
		scheduler: scheduler,
		worker:    worker,
		config:    cfg,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Start begins the poll loop and the stale-claim recovery loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.recoverLoop(ctx)
	}()
}

// Wake asks the poll loop to dequeue now instead of at the next tick.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop stops polling and waits for in-flight jobs until ctx is done.
// Jobs still running after that keep their claim and are recovered later.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.logger.WarnContext(ctx, "engine stop timed out with jobs in flight")
		return ctx.Err()
	}
}

// pollLoop dequeues due jobs on every tick or wake-up. It claims no more jobs
// than there are idle workers, so every claimed job starts at once.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
		}

		limit := min(e.config.BatchSize, cap(sem)-len(sem))
		if limit <= 0 {
			// A finishing worker wakes the loop.
			continue
		}

		batch, err := e.scheduler.DequeueDue(ctx, limit)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			}
			continue
		}

		for i, job := range batch {
			select {
			case <-ctx.Done():
				e.abandon(batch[i:])
				return
			case sem <- struct{}{}:
			}

			e.wg.Add(1)
			go func(j *Job) {
				defer e.wg.Done()
				defer e.Wake()
				defer func() { <-sem }()
				// A started job runs to completion even while stopping.
				e.process(context.WithoutCancel(ctx), j)
			}(job)
		}

		// A full batch means more work may be due right away.
		if len(batch) == limit {
			e.Wake()
		}
	}
}

func (e *Engine) process(ctx context.Context, job *Job) {
	if _, err := e.worker.Execute(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "job execution failed",
			"job_id", job.ID, "event_id", job.EventID, "error", err)
	}
}

// abandon hands claimed but unstarted jobs back to the queue.
func (e *Engine) abandon(jobs []*Job) {
	ctx := context.Background()
	for _, job := range jobs {
		if err := e.scheduler.Release(ctx, job, 0); err != nil {
			e.logger.ErrorContext(ctx, "release job failed", "job_id", job.ID, "error", err)
		}
	}
}

// recoverLoop periodically returns stale claims to the queue.
func (e *Engine) recoverLoop(ctx context.Context) {
	interval := e.config.ClaimTimeout / 2
	if interval < e.config.PollInterval {
		interval = e.config.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.scheduler.RecoverStale(ctx, e.config.ClaimTimeout); err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "recover stale jobs failed", "error", err)
		}
		e.scheduler.SyncGauge(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
