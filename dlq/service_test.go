package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() (*dlq.Service, *memory.Store) {
	store := memory.New()
	sched := delivery.NewScheduler(store, delivery.SchedulerConfig{}, nil)
	return dlq.NewService(store, sched, nil), store
}

func appendFailure(t *testing.T, store *memory.Store, attempt int, terminal bool, at time.Time) *delivery.Record {
	t.Helper()
	job := delivery.NewJob(id.NewEventID(), id.NewSubscriptionID(), false, at)
	job.Attempt = attempt
	rec := delivery.NewRecord(job, delivery.Failure{Message: "unexpected status code 500"}, terminal)
	rec.CreatedAt = at
	if err := store.AppendRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestListOnlyTerminalFailures(t *testing.T) {
	svc, store := newService()
	now := time.Now().UTC()

	appendFailure(t, store, 1, false, now.Add(-time.Minute))
	dead := appendFailure(t, store, 5, true, now)

	okJob := delivery.NewJob(id.NewEventID(), id.NewSubscriptionID(), false, now)
	_ = store.AppendRecord(ctx(), delivery.NewRecord(okJob, delivery.Success{StatusCode: 204}, true))

	list, err := svc.List(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != dead.ID {
		t.Fatalf("expected only the terminal failure, got %d records", len(list))
	}

	n, err := svc.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
}

func TestRetryEnqueuesFreshJob(t *testing.T) {
	svc, store := newService()
	rec := appendFailure(t, store, 5, true, time.Now().UTC())

	job, err := svc.Retry(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !job.IsRetry {
		t.Fatal("manual retry must be flagged isRetry")
	}
	if job.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", job.Attempt)
	}
	if job.EventID != rec.EventID || job.SubscriptionID != rec.SubscriptionID {
		t.Fatal("retry must target the record's event and subscription")
	}

	jobs := store.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(jobs))
	}
	if jobs[0].NextRunAt.After(time.Now().UTC()) {
		t.Fatal("retry job should be due immediately")
	}
}

func TestRetryNonTerminalRecord(t *testing.T) {
	svc, store := newService()
	rec := appendFailure(t, store, 2, false, time.Now().UTC())

	if _, err := svc.Retry(ctx(), rec.ID); err != nil {
		t.Fatalf("any record may be retried, got %v", err)
	}
}

func TestRetryRepeatedCreatesIndependentJobs(t *testing.T) {
	svc, store := newService()
	rec := appendFailure(t, store, 5, true, time.Now().UTC())

	first, _ := svc.Retry(ctx(), rec.ID)
	second, _ := svc.Retry(ctx(), rec.ID)
	if first.ID == second.ID {
		t.Fatal("each retry creates its own job")
	}
	if n, _ := store.CountJobs(ctx()); n != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", n)
	}
}

func TestRetryUnknownRecord(t *testing.T) {
	svc, store := newService()

	_, err := svc.Retry(ctx(), id.NewRecordID())
	if !errors.Is(err, delivery.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if n, _ := store.CountJobs(ctx()); n != 0 {
		t.Fatal("no job should be enqueued for an unknown record")
	}
}

func TestRetryBulk(t *testing.T) {
	svc, store := newService()
	now := time.Now().UTC()

	appendFailure(t, store, 5, true, now.Add(-3*time.Hour))
	appendFailure(t, store, 5, true, now.Add(-30*time.Minute))
	appendFailure(t, store, 5, true, now.Add(-10*time.Minute))
	appendFailure(t, store, 3, false, now.Add(-5*time.Minute))

	n, err := svc.RetryBulk(ctx(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 retries, got %d", n)
	}
	for _, j := range store.Jobs() {
		if !j.IsRetry || j.Attempt != 1 {
			t.Fatalf("unexpected job %+v", j)
		}
	}

	if _, err := svc.RetryBulk(ctx(), now, now.Add(-time.Hour)); !errors.Is(err, dlq.ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}
