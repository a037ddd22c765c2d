// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	relaystore "github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/subscription"
)

// compile-time interface check.
var _ relaystore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	events        map[string]*event.Event               // keyed by ID string
	subscriptions map[string]*subscription.Subscription // keyed by ID string
	jobs          map[string]*delivery.Job              // keyed by ID string
	records       []*delivery.Record                    // append-only

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:        make(map[string]*event.Event),
		subscriptions: make(map[string]*subscription.Subscription),
		jobs:          make(map[string]*delivery.Job),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookrelay.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *evt
	s.events[evt.ID.String()] = &cp
	return nil
}

// GetEvent returns a copy of the event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *evt
	return &cp, nil
}

// ListEvents returns events newest first, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		if opts.Status != "" && evt.Status != opts.Status {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountEvents returns the total number of events.
func (s *Store) CountEvents(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.events)), nil
}

// MarkDelivered moves a PENDING event to DELIVERED.
func (s *Store) MarkDelivered(_ context.Context, evtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return event.ErrNotFound
	}
	if evt.Status == event.StatusPending {
		evt.Status = event.StatusDelivered
		evt.Touch()
	}
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

// GetSubscription returns a copy of the subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// ListSubscriptions returns subscriptions oldest first.
func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.EventType != "" && sub.EventType != opts.EventType {
			continue
		}
		if opts.Active != nil && sub.IsActive != *opts.Active {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// SetActive enables or disables a subscription.
func (s *Store) SetActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.IsActive = active
	sub.Touch()
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ResolveActive returns active subscriptions for eventType, oldest first.
func (s *Store) ResolveActive(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	active := true
	return s.ListSubscriptions(ctx, subscription.ListOpts{EventType: eventType, Active: &active})
}

// ──────────────────────────────────────────────────
// delivery.QueueStore
// ──────────────────────────────────────────────────

// EnqueueJobs stores pending jobs in one critical section.
func (s *Store) EnqueueJobs(_ context.Context, jobs ...*delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range jobs {
		cp := *j
		s.jobs[j.ID.String()] = &cp
	}
	return nil
}

// ClaimDueJobs marks due pending jobs claimed and returns copies, so callers
// can mutate them without holding a lock.
func (s *Store) ClaimDueJobs(_ context.Context, now time.Time, limit int) ([]*delivery.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*delivery.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.State != delivery.JobPending {
			continue
		}
		if j.NextRunAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextRunAt.Before(candidates[j].NextRunAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	claimedAt := time.Now().UTC()
	result := make([]*delivery.Job, 0, len(candidates))
	for _, j := range candidates {
		j.State = delivery.JobClaimed
		j.ClaimedAt = &claimedAt
		cp := *j
		result = append(result, &cp)
	}
	return result, nil
}

// RescheduleJob returns a job to pending with its new attempt and due time.
func (s *Store) RescheduleJob(_ context.Context, job *delivery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID.String()]
	if !ok {
		return delivery.ErrJobNotFound
	}
	existing.Attempt = job.Attempt
	existing.NextRunAt = job.NextRunAt
	existing.State = delivery.JobPending
	existing.ClaimedAt = nil
	existing.Touch()
	return nil
}

// CompleteJob removes a job from the queue.
func (s *Store) CompleteJob(_ context.Context, jobID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID.String())
	return nil
}

// ReleaseStaleJobs returns claims older than claimedBefore to pending.
func (s *Store) ReleaseStaleJobs(_ context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, j := range s.jobs {
		if j.State != delivery.JobClaimed || j.ClaimedAt == nil {
			continue
		}
		if !j.ClaimedAt.Before(claimedBefore) {
			continue
		}
		j.State = delivery.JobPending
		j.ClaimedAt = nil
		count++
	}
	return count, nil
}

// CountJobs returns the number of queued jobs.
func (s *Store) CountJobs(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.jobs)), nil
}

// Jobs returns copies of every queued job. Tests use it to inspect the queue.
func (s *Store) Jobs() []*delivery.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].NextRunAt.Before(result[k].NextRunAt)
	})
	return result
}

// ──────────────────────────────────────────────────
// delivery.RecordStore
// ──────────────────────────────────────────────────

// AppendRecord appends a delivery record.
func (s *Store) AppendRecord(_ context.Context, rec *delivery.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// GetRecord returns a copy of the record by ID.
func (s *Store) GetRecord(_ context.Context, recID id.ID) (*delivery.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ID.String() == recID.String() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, delivery.ErrRecordNotFound
}

// ListRecords returns matching records newest first.
func (s *Store) ListRecords(_ context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Record, 0, len(s.records))
	// Walk backwards so records appended in the same instant stay newest first.
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !opts.Match(r) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountRecords returns the number of matching records.
func (s *Store) CountRecords(_ context.Context, opts delivery.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, r := range s.records {
		if opts.Match(r) {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
