package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/store/memory"
)

// flakyStore fails GetEvent with err while err is set.
type flakyStore struct {
	*memory.Store
	err error
}

func (f *flakyStore) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.GetEvent(ctx, evtID)
}

// stubThrottle hands out a fixed delay and remembers reset keys.
type stubThrottle struct {
	delay time.Duration
	reset []string
}

func (s *stubThrottle) Reserve(string) time.Duration { return s.delay }
func (s *stubThrottle) Reset(key string) { s.reset = append(s.reset, key) }

// brokenQueue fails CompleteJob while err is set.
type brokenQueue struct {
	*memory.Store
	err error
}

func (b *brokenQueue) CompleteJob(ctx context.Context, jobID id.ID) error {
	if b.err != nil {
		return b.err
	}
	return b.Store.CompleteJob(ctx, jobID)
}

type workerFixture struct {
	store  *memory.Store
	sched  *delivery.Scheduler
	worker *delivery.Worker
}

func newWorkerFixture(t *testing.T, ws delivery.WorkerStore, store *memory.Store) *workerFixture {
	t.Helper()
	return newWorkerFixtureWith(t, ws, store, store, delivery.WorkerConfig{})
}

func newWorkerFixtureWith(t *testing.T, ws delivery.WorkerStore, store *memory.Store, queue delivery.QueueStore, cfg delivery.WorkerConfig) *workerFixture {
	t.Helper()
	sched := delivery.NewScheduler(queue, delivery.SchedulerConfig{MaxAttempts: 3, BaseDelay: time.Second}, nil)
	w := delivery.NewWorker(ws, delivery.NewSender(time.Second), sched, cfg, nil)
	return &workerFixture{store: store, sched: sched, worker: w}
}

// seed stores an event and subscription and returns a claimed job for them.
func (f *workerFixture) seed(t *testing.T, url string, isRetry bool, attempt int) (*event.Event, *delivery.Job) {
	t.Helper()
	evt := testEvent(`{"candidateId":"c_1"}`)
	sub := testSubscription(url)
	_ = f.store.CreateEvent(ctx(), evt)
	_ = f.store.CreateSubscription(ctx(), sub)

	job := delivery.NewJob(evt.ID, sub.ID, isRetry, time.Now())
	job.Attempt = attempt
	return evt, claimOne(t, f.store, f.sched, job)
}

func statusServer(code int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
}

func TestExecuteSuccessMarksDelivered(t *testing.T) {
	srv := statusServer(http.StatusOK)
	defer srv.Close()

	store := memory.New()
	f := newWorkerFixture(t, store, store)
	evt, job := f.seed(t, srv.URL, false, 1)

	out, err := f.worker.Execute(ctx(), job)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(delivery.Success); !ok {
		t.Fatalf("expected success, got %#v", out)
	}

	got, _ := store.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", got.Status)
	}

	recs, _ := store.ListRecords(ctx(), delivery.ListOpts{EventID: evt.ID})
	if len(recs) != 1 || recs[0].Status != delivery.RecordSuccess || recs[0].Attempts != 1 {
		t.Fatalf("unexpected records %+v", recs)
	}
	if n, _ := store.CountJobs(ctx()); n != 0 {
		t.Fatal("completed job must leave the queue")
	}
}

func TestExecuteRetrySuccessLeavesStatus(t *testing.T) {
	srv := statusServer(http.StatusOK)
	defer srv.Close()

	store := memory.New()
	f := newWorkerFixture(t, store, store)
	evt, job := f.seed(t, srv.URL, true, 1)

	if _, err := f.worker.Execute(ctx(), job); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusPending {
		t.Fatalf("manual retry must not change event status, got %s", got.Status)
	}
}

func TestExecuteFailureReschedules(t *testing.T) {
	srv := statusServer(http.StatusInternalServerError)
	defer srv.Close()

	store := memory.New()
	f := newWorkerFixture(t, store, store)
	evt, job := f.seed(t, srv.URL, false, 1)

	out, err := f.worker.Execute(ctx(), job)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(delivery.Failure); !ok {
		t.Fatalf("expected failure, got %#v", out)
	}

	recs, _ := store.ListRecords(ctx(), delivery.ListOpts{EventID: evt.ID})
	if len(recs) != 1 || recs[0].Status != delivery.RecordFailed || recs[0].Terminal {
		t.Fatalf("expected one non-terminal failure, got %+v", recs)
	}

	jobs := store.Jobs()
	if len(jobs) != 1 || jobs[0].Attempt != 2 {
		t.Fatal("expected job rescheduled at attempt 2")
	}

	got, _ := store.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusPending {
		t.Fatal("failed delivery leaves the event PENDING")
	}
}

func TestExecuteLastAttemptIsTerminal(t *testing.T) {
	srv := statusServer(http.StatusBadGateway)
	defer srv.Close()

	store := memory.New()
	f := newWorkerFixture(t, store, store)
	evt, job := f.seed(t, srv.URL, false, 3)

	if _, err := f.worker.Execute(ctx(), job); err != nil {
		t.Fatal(err)
	}

	recs, _ := store.ListRecords(ctx(), delivery.ListOpts{EventID: evt.ID})
	if len(recs) != 1 || !recs[0].Terminal || recs[0].Attempts != 3 {
		t.Fatalf("expected terminal record at attempt 3, got %+v", recs)
	}
	if n, _ := store.CountJobs(ctx()); n != 0 {
		t.Fatal("terminal job must leave the queue")
	}
}

func TestExecuteMissingSubscriptionIsTerminal(t *testing.T) {
	store := memory.New()
	f := newWorkerFixture(t, store, store)
	_, job := f.seed(t, "https://example.invalid/hook", false, 1)
	_ = store.DeleteSubscription(ctx(), job.SubscriptionID)

	out, err := f.worker.Execute(ctx(), job)
	if err != nil {
		t.Fatal(err)
	}
	fail, ok := out.(delivery.Failure)
	if !ok || fail.Reason != delivery.ReasonMissingReference {
		t.Fatalf("expected missing reference failure, got %#v", out)
	}

	recs, _ := store.ListRecords(ctx(), delivery.ListOpts{})
	if len(recs) != 1 || !recs[0].Terminal {
		t.Fatal("missing reference must produce one terminal record")
	}
	if n, _ := store.CountJobs(ctx()); n != 0 {
		t.Fatal("job must not be retried")
	}
}

func TestExecuteStoreErrorReleasesJob(t *testing.T) {
	store := memory.New()
	flaky := &flakyStore{Store: store}
	f := newWorkerFixture(t, flaky, store)
	_, job := f.seed(t, "https://example.invalid/hook", false, 2)

	boom := errors.New("connection reset")
	flaky.err = boom

	if _, err := f.worker.Execute(ctx(), job); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}

	if n, _ := store.CountRecords(ctx(), delivery.ListOpts{}); n != 0 {
		t.Fatal("no record should be written for a store error")
	}
	jobs := store.Jobs()
	if len(jobs) != 1 || jobs[0].Attempt != 2 || jobs[0].State != delivery.JobPending {
		t.Fatal("job must be released without spending an attempt")
	}
}

func TestExecuteThrottledReleasesClaim(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.New()
	throttle := &stubThrottle{delay: 300 * time.Millisecond}
	f := newWorkerFixtureWith(t, store, store, store, delivery.WorkerConfig{Throttle: throttle})
	_, job := f.seed(t, srv.URL, false, 2)

	before := time.Now().UTC()
	out, err := f.worker.Execute(ctx(), job)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("throttled job should not produce an outcome, got %#v", out)
	}
	if hits.Load() != 0 {
		t.Fatal("throttled job must not be sent")
	}
	if n, _ := store.CountRecords(ctx(), delivery.ListOpts{}); n != 0 {
		t.Fatal("throttled job must not be recorded")
	}

	jobs := store.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.State != delivery.JobPending || got.ClaimedAt != nil {
		t.Fatal("throttled job must give up its claim")
	}
	if got.Attempt != 2 {
		t.Fatalf("throttling must not spend an attempt, got attempt %d", got.Attempt)
	}
	if got.NextRunAt.Before(before.Add(300 * time.Millisecond)) {
		t.Fatal("throttled job should wait for the next token")
	}
}

func TestExecuteMissingSubscriptionResetsThrottle(t *testing.T) {
	store := memory.New()
	throttle := &stubThrottle{}
	f := newWorkerFixtureWith(t, store, store, store, delivery.WorkerConfig{Throttle: throttle})
	_, job := f.seed(t, "https://example.invalid/hook", false, 1)
	_ = store.DeleteSubscription(ctx(), job.SubscriptionID)

	if _, err := f.worker.Execute(ctx(), job); err != nil {
		t.Fatal(err)
	}
	if len(throttle.reset) != 1 || throttle.reset[0] != job.SubscriptionID.String() {
		t.Fatalf("expected throttle reset for the deleted subscription, got %v", throttle.reset)
	}
}

func TestExecuteReportFailureKeepsClaim(t *testing.T) {
	srv := statusServer(http.StatusOK)
	defer srv.Close()

	store := memory.New()
	queue := &brokenQueue{Store: store}
	f := newWorkerFixtureWith(t, store, store, queue, delivery.WorkerConfig{})
	_, job := f.seed(t, srv.URL, false, 1)

	boom := errors.New("connection reset")
	queue.err = boom

	out, err := f.worker.Execute(ctx(), job)
	if !errors.Is(err, boom) {
		t.Fatalf("expected report error, got %v", err)
	}
	if _, ok := out.(delivery.Success); !ok {
		t.Fatalf("the recorded outcome should still be returned, got %#v", out)
	}

	if n, _ := store.CountRecords(ctx(), delivery.ListOpts{}); n != 1 {
		t.Fatalf("expected the attempt to be recorded once, got %d", n)
	}
	jobs := store.Jobs()
	if len(jobs) != 1 || jobs[0].State != delivery.JobClaimed {
		t.Fatal("job should keep its claim for the stale-claim sweep")
	}
}
