// Package bunstore implements store.Store on the Bun ORM. It runs on
// PostgreSQL (pgdialect) and SQLite (sqlitedialect); the job claim query
// adapts to the dialect.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	relaystore "github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/subscription"
)

// compile-time interface check
var _ relaystore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*eventModel)(nil),
		(*subscriptionModel)(nil),
		(*jobModel)(nil),
		(*recordModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("hookrelay/bun: %w: create table: %w", hookrelay.ErrMigrationFailed, err)
		}
	}

	// Create indexes.
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_events_type ON hookrelay_events (event_type)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_events_created ON hookrelay_events (created_at)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_subscriptions_type ON hookrelay_subscriptions (event_type, is_active)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_jobs_due ON hookrelay_jobs (state, next_run_at)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_jobs_claimed ON hookrelay_jobs (state, claimed_at)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_records_event ON hookrelay_records (event_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_records_subscription ON hookrelay_records (subscription_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_records_created ON hookrelay_records (created_at)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("hookrelay/bun: %w: create index: %w", hookrelay.ErrMigrationFailed, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.NewInsert().Model(toEventModel(evt)).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", evtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models)

	if opts.Type != "" {
		q = q.Where("event_type = ?", opts.Type)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().Model((*eventModel)(nil)).Count(ctx)
	return int64(count), err
}

func (s *Store) MarkDelivered(ctx context.Context, evtID id.ID) error {
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = ?", string(event.StatusDelivered)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", evtID.String()).
		Where("status = ?", string(event.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*eventModel)(nil)).
		Where("id = ?", evtID.String()).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return event.ErrNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.db.NewInsert().Model(toSubscriptionModel(sub)).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models)

	if opts.EventType != "" {
		q = q.Where("event_type = ?", opts.EventType)
	}
	if opts.Active != nil {
		q = q.Where("is_active = ?", *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	res, err := s.db.NewUpdate().
		Model((*subscriptionModel)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) ResolveActive(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("event_type = ?", eventType).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

// ==================== Queue Store ====================

func (s *Store) EnqueueJobs(ctx context.Context, jobs ...*delivery.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	models := make([]jobModel, len(jobs))
	for i, j := range jobs {
		models[i] = *toJobModel(j)
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	return err
}

// claimQuery is the UPDATE ... RETURNING claim. PostgreSQL gets row locks
// with SKIP LOCKED; SQLite serializes writers and needs none.
func (s *Store) claimQuery() string {
	lock := ""
	if s.db.Dialect().Name() == dialect.PG {
		lock = "FOR UPDATE SKIP LOCKED"
	}
	return `
		UPDATE hookrelay_jobs
		SET state = 'claimed', claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM hookrelay_jobs
			WHERE state = 'pending' AND next_run_at <= ?
			ORDER BY next_run_at ASC
			LIMIT ?
			` + lock + `
		)
		RETURNING *`
}

func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*delivery.Job, error) {
	if limit <= 0 {
		limit = -1
		if s.db.Dialect().Name() == dialect.PG {
			limit = 1 << 30
		}
	}

	claimedAt := time.Now().UTC()
	var models []jobModel
	if err := s.db.NewRaw(s.claimQuery(), claimedAt, claimedAt, now.UTC(), limit).Scan(ctx, &models); err != nil {
		return nil, err
	}

	result := make([]*delivery.Job, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = j
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].NextRunAt.Before(result[k].NextRunAt)
	})
	return result, nil
}

func (s *Store) RescheduleJob(ctx context.Context, job *delivery.Job) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("attempt = ?", job.Attempt).
		Set("next_run_at = ?", job.NextRunAt.UTC()).
		Set("state = ?", string(delivery.JobPending)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", job.ID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return delivery.ErrJobNotFound
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID id.ID) error {
	_, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("state = ?", string(delivery.JobPending)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("state = ?", string(delivery.JobClaimed)).
		Where("claimed_at < ?", claimedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().Model((*jobModel)(nil)).Count(ctx)
	return int64(count), err
}

// ==================== Record Store ====================

func (s *Store) AppendRecord(ctx context.Context, rec *delivery.Record) error {
	_, err := s.db.NewInsert().Model(toRecordModel(rec)).Exec(ctx)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(recordModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", recID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, delivery.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []recordModel
	q := applyRecordFilters(s.db.NewSelect().Model(&models), opts)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Record, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountRecords(ctx context.Context, opts delivery.ListOpts) (int64, error) {
	count, err := applyRecordFilters(s.db.NewSelect().Model((*recordModel)(nil)), opts).Count(ctx)
	return int64(count), err
}

func applyRecordFilters(q *bun.SelectQuery, opts delivery.ListOpts) *bun.SelectQuery {
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	if !opts.SubscriptionID.IsNil() {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Terminal != nil {
		q = q.Where("terminal = ?", *opts.Terminal)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", opts.From.UTC())
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", opts.To.UTC())
	}
	return q
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}
