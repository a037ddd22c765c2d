package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
)

// AppendRecord writes one delivery record.
func (s *Store) AppendRecord(ctx context.Context, rec *delivery.Record) error {
	m := toRecordModel(rec)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: append record: %w", err)
	}

	return nil
}

// GetRecord returns a delivery record by ID.
func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	var m recordModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, delivery.ErrRecordNotFound
		}

		return nil, fmt.Errorf("hookrelay/mongo: get record: %w", err)
	}

	return fromRecordModel(&m)
}

// ListRecords returns matching records newest first.
func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []recordModel

	q := s.mdb.NewFind(&models).
		Filter(recordFilter(opts)).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookrelay/mongo: list records: %w", err)
	}

	result := make([]*delivery.Record, 0, len(models))

	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, rec)
	}

	return result, nil
}

// CountRecords returns the number of matching records.
func (s *Store) CountRecords(ctx context.Context, opts delivery.ListOpts) (int64, error) {
	count, err := s.mdb.NewFind((*recordModel)(nil)).
		Filter(recordFilter(opts)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hookrelay/mongo: count records: %w", err)
	}

	return count, nil
}

func recordFilter(opts delivery.ListOpts) bson.M {
	filter := bson.M{}
	if !opts.EventID.IsNil() {
		filter["event_id"] = opts.EventID.String()
	}

	if !opts.SubscriptionID.IsNil() {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	if opts.Terminal != nil {
		filter["terminal"] = *opts.Terminal
	}

	if opts.From != nil || opts.To != nil {
		dateFilter := bson.M{}
		if opts.From != nil {
			dateFilter["$gte"] = *opts.From
		}

		if opts.To != nil {
			dateFilter["$lte"] = *opts.To
		}

		filter["created_at"] = dateFilter
	}

	return filter
}
