package delivery

import (
	"errors"
	"time"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// ErrJobNotFound is returned when a queued job cannot be found.
var ErrJobNotFound = errors.New("hookrelay: delivery job not found")

// JobState is the queue state of a delivery job.
type JobState string

const (
	// JobPending means the job waits in the queue until NextRunAt.
	JobPending JobState = "pending"

	// JobClaimed means a worker dequeued the job and has not reported back.
	JobClaimed JobState = "claimed"
)

// Job is one scheduled delivery of one event to one subscription.
// It lives in the queue only until it succeeds or fails terminally.
type Job struct {
	entity.Entity

	// ID is the unique TypeID for this job.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"eventId"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscriptionId"`

	// IsRetry is true only for operator-triggered re-deliveries.
	IsRetry bool `json:"isRetry"`

	// Attempt is the 1-based number of the next attempt.
	Attempt int `json:"attempt"`

	// NextRunAt is the earliest time the job may be dequeued.
	NextRunAt time.Time `json:"nextRunAt"`

	// State is the queue state.
	State JobState `json:"state"`

	// ClaimedAt is when a worker dequeued the job.
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`
}

// NewJob returns a pending first-attempt job due at runAt.
func NewJob(eventID, subscriptionID id.ID, isRetry bool, runAt time.Time) *Job {
	return &Job{
		Entity:         entity.New(),
		ID:             id.NewJobID(),
		EventID:        eventID,
		SubscriptionID: subscriptionID,
		IsRetry:        isRetry,
		Attempt:        1,
		NextRunAt:      runAt.UTC(),
		State:          JobPending,
	}
}
