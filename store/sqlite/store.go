// Package sqlite implements store.Store on SQLite via the grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	relaystore "github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/subscription"
)

// compile-time interface check
var _ relaystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("hookrelay/sqlite: create migration executor: %w: %w", hookrelay.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookrelay/sqlite: %w: %w", hookrelay.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.sdb.NewInsert(toEventModel(evt)).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models)

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
	q = q.OrderExpr("created_at DESC")

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
	return s.sdb.NewSelect((*eventModel)(nil)).Count(ctx)
}

func (s *Store) MarkDelivered(ctx context.Context, evtID id.ID) error {
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
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

	// Zero rows: either already delivered or missing.
	n, err := s.sdb.NewSelect((*eventModel)(nil)).
		Where("id = ?", evtID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return event.ErrNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.sdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

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
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
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
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
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
	if err := s.sdb.NewSelect(&models).
		Where("event_type = ?", eventType).
		Where("is_active = 1").
		OrderExpr("created_at ASC").
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
	// One multi-row INSERT: all jobs land or none do.
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*delivery.Job, error) {
	var models []jobModel
	claimedAt := time.Now().UTC()
	err := s.sdb.NewRaw(claimDueJobsQuery, claimedAt, claimedAt, now.UTC(), limit).Scan(ctx, &models)
	if err != nil {
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
	// RETURNING does not preserve the subquery order.
	sort.Slice(result, func(i, k int) bool {
		return result[i].NextRunAt.Before(result[k].NextRunAt)
	})
	return result, nil
}

func (s *Store) RescheduleJob(ctx context.Context, job *delivery.Job) error {
	var models []jobModel
	err := s.sdb.NewRaw(rescheduleJobQuery,
		job.Attempt, job.NextRunAt.UTC(), time.Now().UTC(), job.ID.String(),
	).Scan(ctx, &models)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return delivery.ErrJobNotFound
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID id.ID) error {
	_, err := s.sdb.NewDelete((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time) (int64, error) {
	var models []jobModel
	err := s.sdb.NewRaw(releaseStaleJobsQuery,
		time.Now().UTC(), claimedBefore.UTC(),
	).Scan(ctx, &models)
	if err != nil {
		return 0, err
	}
	return int64(len(models)), nil
}

func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	return s.sdb.NewSelect((*jobModel)(nil)).Count(ctx)
}

// ==================== Record Store ====================

func (s *Store) AppendRecord(ctx context.Context, rec *delivery.Record) error {
	_, err := s.sdb.NewInsert(toRecordModel(rec)).Exec(ctx)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []recordModel
	q := s.sdb.NewSelect(&models)
	for _, f := range recordFilters(opts) {
		q = q.Where(f.clause, f.arg)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

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
	q := s.sdb.NewSelect((*recordModel)(nil))
	for _, f := range recordFilters(opts) {
		q = q.Where(f.clause, f.arg)
	}
	return q.Count(ctx)
}

// filter is one WHERE clause and its argument.
type filter struct {
	clause string
	arg    any
}

func recordFilters(opts delivery.ListOpts) []filter {
	var filters []filter
	add := func(column string, arg any) {
		filters = append(filters, filter{
			clause: column + " ?",
			arg:    arg,
		})
	}

	if !opts.EventID.IsNil() {
		add("event_id =", opts.EventID.String())
	}
	if !opts.SubscriptionID.IsNil() {
		add("subscription_id =", opts.SubscriptionID.String())
	}
	if opts.Status != "" {
		add("status =", string(opts.Status))
	}
	if opts.Terminal != nil {
		add("terminal =", *opts.Terminal)
	}
	if opts.From != nil {
		add("created_at >=", opts.From.UTC())
	}
	if opts.To != nil {
		add("created_at <=", opts.To.UTC())
	}
	return filters
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
