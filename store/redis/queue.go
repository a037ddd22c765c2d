package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// jobModel is the JSON representation stored in Redis.
type jobModel struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	SubscriptionID string     `json:"subscription_id"`
	IsRetry        bool       `json:"is_retry"`
	Attempt        int        `json:"attempt"`
	NextRunAt      time.Time  `json:"next_run_at"`
	State          string     `json:"state"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toJobModel(j *delivery.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		EventID:        j.EventID.String(),
		SubscriptionID: j.SubscriptionID.String(),
		IsRetry:        j.IsRetry,
		Attempt:        j.Attempt,
		NextRunAt:      j.NextRunAt,
		State:          string(j.State),
		ClaimedAt:      j.ClaimedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*delivery.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Job{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             jobID,
		EventID:        evtID,
		SubscriptionID: subID,
		IsRetry:        m.IsRetry,
		Attempt:        m.Attempt,
		NextRunAt:      m.NextRunAt,
		State:          delivery.JobState(m.State),
		ClaimedAt:      m.ClaimedAt,
	}, nil
}

// claimScript atomically moves due job IDs from the pending set to the
// claimed set.
// KEYS[1] = pending sorted set
// KEYS[2] = claimed sorted set
// ARGV[1] = due threshold (score)
// ARGV[2] = limit (-1 for no limit)
// ARGV[3] = claim time (score)
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return ids
`)

func (s *Store) EnqueueJobs(ctx context.Context, jobs ...*delivery.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	// MULTI/EXEC: all jobs land or none do.
	pipe := s.rdb.TxPipeline()
	for _, j := range jobs {
		m := toJobModel(j)
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("hookrelay/redis: enqueue marshal: %w", err)
		}
		pipe.Set(ctx, entityKey(prefixJob, m.ID), raw, 0)
		pipe.ZAdd(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextRunAt), Member: m.ID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: enqueue jobs: %w", err)
	}
	return nil
}

func (s *Store) ClaimDueJobs(ctx context.Context, at time.Time, limit int) ([]*delivery.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	claimedAt := now()
	dueScore := fmt.Sprintf("%f", scoreFromTime(at))
	claimScore := fmt.Sprintf("%f", scoreFromTime(claimedAt))

	ids, err := claimScript.Run(ctx, s.rdb, []string{zJobPending, zJobClaimed}, dueScore, limit, claimScore).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hookrelay/redis: claim script: %w", err)
	}

	jobs := make([]*delivery.Job, 0, len(ids))
	for _, jobID := range ids {
		key := entityKey(prefixJob, jobID)
		var m jobModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isNotFound(err) {
				// Completed between claim and fetch.
				s.rdb.ZRem(ctx, zJobClaimed, jobID)
				continue
			}
			return nil, fmt.Errorf("hookrelay/redis: claim get: %w", err)
		}

		m.State = string(delivery.JobClaimed)
		m.ClaimedAt = &claimedAt
		m.UpdatedAt = claimedAt
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("hookrelay/redis: claim update: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) RescheduleJob(ctx context.Context, job *delivery.Job) error {
	key := entityKey(prefixJob, job.ID.String())
	var m jobModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return delivery.ErrJobNotFound
		}
		return fmt.Errorf("hookrelay/redis: reschedule get: %w", err)
	}

	m.Attempt = job.Attempt
	m.NextRunAt = job.NextRunAt.UTC()
	m.State = string(delivery.JobPending)
	m.ClaimedAt = nil
	m.UpdatedAt = now()

	raw, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("hookrelay/redis: reschedule marshal: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, 0)
	pipe.ZRem(ctx, zJobClaimed, m.ID)
	pipe.ZAdd(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextRunAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: reschedule job: %w", err)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID id.ID) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, entityKey(prefixJob, jobID.String()))
	pipe.ZRem(ctx, zJobClaimed, jobID.String())
	pipe.ZRem(ctx, zJobPending, jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: complete job: %w", err)
	}
	return nil
}

func (s *Store) ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time) (int64, error) {
	// Strictly before: exclude the boundary score.
	ids, err := s.zRangeByScoreIDs(ctx, zJobClaimed, math.Inf(-1), math.Nextafter(scoreFromTime(claimedBefore), math.Inf(-1)))
	if err != nil {
		return 0, fmt.Errorf("hookrelay/redis: list stale jobs: %w", err)
	}

	var released int64
	for _, jobID := range ids {
		// ZREM decides the race against a worker finishing the same job.
		removed, err := s.rdb.ZRem(ctx, zJobClaimed, jobID).Result()
		if err != nil {
			return released, fmt.Errorf("hookrelay/redis: release stale job: %w", err)
		}
		if removed == 0 {
			continue
		}

		key := entityKey(prefixJob, jobID)
		var m jobModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return released, fmt.Errorf("hookrelay/redis: release get: %w", err)
		}
		m.State = string(delivery.JobPending)
		m.ClaimedAt = nil
		m.UpdatedAt = now()
		if err := s.setEntity(ctx, key, &m); err != nil {
			return released, fmt.Errorf("hookrelay/redis: release update: %w", err)
		}
		if err := s.rdb.ZAdd(ctx, zJobPending, goredis.Z{Score: scoreFromTime(m.NextRunAt), Member: m.ID}).Err(); err != nil {
			return released, fmt.Errorf("hookrelay/redis: release index: %w", err)
		}
		released++
	}
	return released, nil
}

func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	pipe := s.rdb.Pipeline()
	pending := pipe.ZCard(ctx, zJobPending)
	claimed := pipe.ZCard(ctx, zJobClaimed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("hookrelay/redis: count jobs: %w", err)
	}
	return pending.Val() + claimed.Val(), nil
}
