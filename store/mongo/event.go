package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
)

// CreateEvent persists an event.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: create event: %w", err)
	}

	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": evtID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, event.ErrNotFound
		}

		return nil, fmt.Errorf("hookrelay/mongo: get event: %w", err)
	}

	return fromEventModel(&m)
}

// ListEvents returns events newest first, optionally filtered by type or status.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	filter := bson.M{}
	if opts.Type != "" {
		filter["event_type"] = opts.Type
	}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookrelay/mongo: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(models))

	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, evt)
	}

	return result, nil
}

// CountEvents returns the total number of events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*eventModel)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hookrelay/mongo: count events: %w", err)
	}

	return count, nil
}

// MarkDelivered moves a PENDING event to DELIVERED.
func (s *Store) MarkDelivered(ctx context.Context, evtID id.ID) error {
	res, err := s.mdb.Collection(colEvents).UpdateOne(ctx,
		bson.M{"_id": evtID.String(), "status": string(event.StatusPending)},
		bson.M{"$set": bson.M{
			"status":     string(event.StatusDelivered),
			"updated_at": now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: mark delivered: %w", err)
	}

	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: already delivered, or missing.
	count, err := s.mdb.NewFind((*eventModel)(nil)).
		Filter(bson.M{"_id": evtID.String()}).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/mongo: mark delivered lookup: %w", err)
	}

	if count == 0 {
		return event.ErrNotFound
	}

	return nil
}
