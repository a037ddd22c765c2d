// Package postgres implements store.Store on PostgreSQL via the grove ORM.
// Job claims use FOR UPDATE SKIP LOCKED so several engines can share a queue.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("hookrelay/postgres: create migration executor: %w: %w", hookrelay.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookrelay/postgres: %w: %w", hookrelay.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(toEventModel(evt)).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("event_type = $%d", argIdx), opts.Type)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	return s.pg.NewSelect((*eventModel)(nil)).Count(ctx)
}

func (s *Store) MarkDelivered(ctx context.Context, evtID id.ID) error {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(event.StatusDelivered)).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", evtID.String()).
		Where("status = $4", string(event.StatusPending)).
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
	n, err := s.pg.NewSelect((*eventModel)(nil)).
		Where("id = $1", evtID.String()).
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
	_, err := s.pg.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.EventType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("event_type = $%d", argIdx), opts.EventType)
	}
	if opts.Active != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("is_active = $%d", argIdx), *opts.Active)
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("is_active = $1", active).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", subID.String()).
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
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
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
	if err := s.pg.NewSelect(&models).
		Where("event_type = $1", eventType).
		Where("is_active = true").
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
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*delivery.Job, error) {
	var models []jobModel
	err := s.pg.NewRaw(`
		UPDATE hookrelay_jobs
		SET state = 'claimed', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM hookrelay_jobs
			WHERE state = 'pending' AND next_run_at <= $2
			ORDER BY next_run_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, time.Now().UTC(), now.UTC(), limit).Scan(ctx, &models)
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
	res, err := s.pg.NewUpdate((*jobModel)(nil)).
		Set("attempt = $1", job.Attempt).
		Set("next_run_at = $2", job.NextRunAt.UTC()).
		Set("state = 'pending'").
		Set("claimed_at = NULL").
		Set("updated_at = $3", time.Now().UTC()).
		Where("id = $4", job.ID.String()).
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
	_, err := s.pg.NewDelete((*jobModel)(nil)).
		Where("id = $1", jobID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.pg.NewUpdate((*jobModel)(nil)).
		Set("state = 'pending'").
		Set("claimed_at = NULL").
		Set("updated_at = $1", time.Now().UTC()).
		Where("state = 'claimed'").
		Where("claimed_at < $2", claimedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	return s.pg.NewSelect((*jobModel)(nil)).Count(ctx)
}

// ==================== Record Store ====================

func (s *Store) AppendRecord(ctx context.Context, rec *delivery.Record) error {
	_, err := s.pg.NewInsert(toRecordModel(rec)).Exec(ctx)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(recordModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
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
	q := s.pg.NewSelect(&models)
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
	q := s.pg.NewSelect((*recordModel)(nil))
	for _, f := range recordFilters(opts) {
		q = q.Where(f.clause, f.arg)
	}
	return q.Count(ctx)
}

// filter is one numbered WHERE clause and its argument.
type filter struct {
	clause string
	arg    any
}

func recordFilters(opts delivery.ListOpts) []filter {
	var filters []filter
	add := func(column string, arg any) {
		filters = append(filters, filter{
			clause: fmt.Sprintf("%s $%d", column, len(filters)+1),
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
