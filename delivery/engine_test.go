package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/ratelimit"
	"github.com/xraph/hookrelay/store/memory"
)

type engineFixture struct {
	store  *memory.Store
	sched  *delivery.Scheduler
	disp   *delivery.Dispatcher
	engine *delivery.Engine
}

func setupEngine(t *testing.T, maxAttempts int) *engineFixture {
	t.Helper()
	store := memory.New()
	sched := delivery.NewScheduler(store, delivery.SchedulerConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   10 * time.Millisecond,
	}, nil)
	worker := delivery.NewWorker(store, delivery.NewSender(time.Second), sched, delivery.WorkerConfig{}, nil)
	engine := delivery.NewEngine(sched, worker, delivery.EngineConfig{
		Concurrency:  4,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		ClaimTimeout: time.Minute,
	}, nil)
	return &engineFixture{
		store:  store,
		sched:  sched,
		disp:   delivery.NewDispatcher(store, sched, nil),
		engine: engine,
	}
}

func (f *engineFixture) ingest(t *testing.T, urls ...string) *event.Event {
	t.Helper()
	evt := testEvent(`{"jobId":"j_1"}`)
	if err := f.store.CreateEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}
	for _, u := range urls {
		if err := f.store.CreateSubscription(ctx(), testSubscription(u)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.disp.Dispatch(ctx(), evt); err != nil {
		t.Fatal(err)
	}
	f.engine.Wake()
	return evt
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func stopEngine(t *testing.T, e *delivery.Engine) {
	t.Helper()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
}

func TestEngineDeliversToAllSubscribers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := setupEngine(t, 5)
	f.engine.Start(context.Background())
	defer stopEngine(t, f.engine)

	evt := f.ingest(t, srv.URL, srv.URL, srv.URL)

	waitFor(t, 3*time.Second, func() bool {
		n, _ := f.store.CountRecords(ctx(), delivery.ListOpts{EventID: evt.ID, Status: delivery.RecordSuccess})
		return n == 3
	})

	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
	got, _ := f.store.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", got.Status)
	}
	if n, _ := f.store.CountJobs(ctx()); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := setupEngine(t, 5)
	f.engine.Start(context.Background())
	defer stopEngine(t, f.engine)

	evt := f.ingest(t, srv.URL)

	waitFor(t, 5*time.Second, func() bool {
		got, _ := f.store.GetEvent(ctx(), evt.ID)
		return got.Status == event.StatusDelivered
	})

	recs, _ := f.store.ListRecords(ctx(), delivery.ListOpts{EventID: evt.ID})
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// Newest first: attempt 3 succeeded after two failures.
	if recs[0].Status != delivery.RecordSuccess || recs[0].Attempts != 3 {
		t.Fatalf("unexpected final record %+v", recs[0])
	}
	for _, r := range recs[1:] {
		if r.Status != delivery.RecordFailed || r.Terminal {
			t.Fatalf("unexpected failure record %+v", r)
		}
	}
}

func TestEngineExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := setupEngine(t, 3)
	f.engine.Start(context.Background())
	defer stopEngine(t, f.engine)

	evt := f.ingest(t, srv.URL)

	terminal := true
	waitFor(t, 5*time.Second, func() bool {
		n, _ := f.store.CountRecords(ctx(), delivery.ListOpts{EventID: evt.ID, Terminal: &terminal})
		return n == 1
	})

	// Give the engine a moment to prove it stops retrying.
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls.Load())
	}
	if n, _ := f.store.CountRecords(ctx(), delivery.ListOpts{EventID: evt.ID}); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	got, _ := f.store.GetEvent(ctx(), evt.ID)
	if got.Status != event.StatusPending {
		t.Fatalf("undeliverable event stays PENDING, got %s", got.Status)
	}
}

func TestEngineStopWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := setupEngine(t, 5)
	f.engine.Start(context.Background())
	evt := f.ingest(t, srv.URL)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never started")
	}

	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- f.engine.Stop(stopCtx)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatal(err)
	}

	n, _ := f.store.CountRecords(ctx(), delivery.ListOpts{EventID: evt.ID, Status: delivery.RecordSuccess})
	if n != 1 {
		t.Fatal("in-flight delivery should finish and be recorded")
	}
}

func TestEngineThrottledBacklogDeliversEachJobOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.New()
	sched := delivery.NewScheduler(store, delivery.SchedulerConfig{BaseDelay: 10 * time.Millisecond}, nil)
	worker := delivery.NewWorker(store, delivery.NewSender(100*time.Millisecond), sched, delivery.WorkerConfig{
		Throttle: ratelimit.New(10, 0),
	}, nil)
	// The backlog takes several claim timeouts to drain at 10/s.
	engine := delivery.NewEngine(sched, worker, delivery.EngineConfig{
		Concurrency:  4,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		ClaimTimeout: 300 * time.Millisecond,
	}, nil)
	disp := delivery.NewDispatcher(store, sched, nil)

	sub := testSubscription(srv.URL)
	if err := store.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}
	const events = 20
	for range events {
		evt := testEvent(`{"jobId":"j_1"}`)
		if err := store.CreateEvent(ctx(), evt); err != nil {
			t.Fatal(err)
		}
		if _, err := disp.Dispatch(ctx(), evt); err != nil {
			t.Fatal(err)
		}
	}

	engine.Start(context.Background())
	defer stopEngine(t, engine)

	waitFor(t, 10*time.Second, func() bool {
		n, _ := store.CountRecords(ctx(), delivery.ListOpts{Status: delivery.RecordSuccess})
		return n >= events
	})
	// Let any stray duplicate surface.
	time.Sleep(500 * time.Millisecond)

	if got := hits.Load(); got != events {
		t.Fatalf("expected %d requests, got %d", events, got)
	}
	if n, _ := store.CountRecords(ctx(), delivery.ListOpts{}); n != events {
		t.Fatalf("expected one record per job, got %d", n)
	}
	recs, _ := store.ListRecords(ctx(), delivery.ListOpts{})
	for _, r := range recs {
		if r.Attempts != 1 {
			t.Fatalf("throttling must not spend attempts, got %+v", r)
		}
	}
}

func TestEngineClaimsOnlyIdleSlots(t *testing.T) {
	release := make(chan struct{})
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := setupEngine(t, 5)
	f.engine.Start(context.Background())
	defer stopEngine(t, f.engine)

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = srv.URL
	}
	f.ingest(t, urls...)

	waitFor(t, 3*time.Second, func() bool { return inFlight.Load() == 4 })
	time.Sleep(50 * time.Millisecond)

	// Four workers are busy, so the other four jobs must still be pending.
	claimed := 0
	for _, j := range f.store.Jobs() {
		if j.State == delivery.JobClaimed {
			claimed++
		}
	}
	if claimed != 4 {
		t.Fatalf("expected 4 claimed jobs with 4 workers, got %d", claimed)
	}

	close(release)
	waitFor(t, 3*time.Second, func() bool {
		n, _ := f.store.CountJobs(ctx())
		return n == 0
	})
	if peak.Load() > 4 {
		t.Fatalf("concurrency exceeded: %d", peak.Load())
	}
}
