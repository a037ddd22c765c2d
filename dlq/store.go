package dlq

import (
	"context"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
)

// Store is the slice of the delivery log the dead letter view reads.
// Dead letters are not stored separately: they are the terminal FAILED
// records.
type Store interface {
	GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error)
	ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error)
	CountRecords(ctx context.Context, opts delivery.ListOpts) (int64, error)
}

// Enqueuer admits retry jobs. *delivery.Scheduler satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *delivery.Job, delay time.Duration) error
}
