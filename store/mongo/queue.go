package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
)

// EnqueueJobs creates pending jobs in one insert (fan-out).
func (s *Store) EnqueueJobs(ctx context.Context, jobs ...*delivery.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	models := make([]jobModel, len(jobs))
	for i, j := range jobs {
		models[i] = *toJobModel(j)
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: enqueue jobs: %w", err)
	}

	return nil
}

// ClaimDueJobs claims due jobs one document at a time. FindOneAndUpdate is
// atomic per document, so concurrent claimers never receive the same job.
func (s *Store) ClaimDueJobs(ctx context.Context, at time.Time, limit int) ([]*delivery.Job, error) {
	result := make([]*delivery.Job, 0, max(limit, 0))
	claimedAt := now()
	col := s.mdb.Collection(colJobs)

	for limit <= 0 || len(result) < limit {
		filter := bson.M{
			"state":       string(delivery.JobPending),
			"next_run_at": bson.M{"$lte": at.UTC()},
		}

		update := bson.M{
			"$set": bson.M{
				"state":      string(delivery.JobClaimed),
				"claimed_at": claimedAt,
				"updated_at": claimedAt,
			},
		}

		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{{Key: "next_run_at", Value: 1}})

		var m jobModel

		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}

			return nil, fmt.Errorf("hookrelay/mongo: claim jobs: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}

		result = append(result, j)
	}

	return result, nil
}

// RescheduleJob returns a claimed job to pending with a new attempt and due time.
func (s *Store) RescheduleJob(ctx context.Context, job *delivery.Job) error {
	res, err := s.mdb.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": job.ID.String()},
		bson.M{
			"$set": bson.M{
				"attempt":     job.Attempt,
				"next_run_at": job.NextRunAt.UTC(),
				"state":       string(delivery.JobPending),
				"updated_at":  now(),
			},
			"$unset": bson.M{"claimed_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: reschedule job: %w", err)
	}

	if res.MatchedCount == 0 {
		return delivery.ErrJobNotFound
	}

	return nil
}

// CompleteJob removes a job from the queue.
func (s *Store) CompleteJob(ctx context.Context, jobID id.ID) error {
	_, err := s.mdb.NewDelete((*jobModel)(nil)).
		Filter(bson.M{"_id": jobID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: complete job: %w", err)
	}

	return nil
}

// ReleaseStaleJobs returns claims older than claimedBefore to pending.
func (s *Store) ReleaseStaleJobs(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.mdb.Collection(colJobs).UpdateMany(ctx,
		bson.M{
			"state":      string(delivery.JobClaimed),
			"claimed_at": bson.M{"$lt": claimedBefore.UTC()},
		},
		bson.M{
			"$set":   bson.M{"state": string(delivery.JobPending), "updated_at": now()},
			"$unset": bson.M{"claimed_at": ""},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("hookrelay/mongo: release stale jobs: %w", err)
	}

	return res.ModifiedCount, nil
}

// CountJobs returns the number of queued jobs.
func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*jobModel)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hookrelay/mongo: count jobs: %w", err)
	}

	return count, nil
}
