package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// eventModel is the JSON representation stored in Redis. The payload is kept
// as a string so its bytes survive the round trip unchanged.
type eventModel struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:        evt.ID.String(),
		EventType: evt.Type,
		Payload:   string(evt.Payload),
		Status:    string(evt.Status),
		CreatedAt: evt.CreatedAt,
		UpdatedAt: evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:      evtID,
		Type:    m.EventType,
		Payload: json.RawMessage(m.Payload),
		Status:  event.Status(m.Status),
	}, nil
}

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	key := entityKey(prefixEvent, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("hookrelay/redis: create event: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	if err := s.rdb.ZAdd(ctx, zEventAll, goredis.Z{Score: score, Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("hookrelay/redis: create event index: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("hookrelay/redis: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zEventAll, math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, fmt.Errorf("hookrelay/redis: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m eventModel
		if err := s.getEntity(ctx, entityKey(prefixEvent, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Type != "" && m.EventType != opts.Type {
			continue
		}
		if opts.Status != "" && m.Status != string(opts.Status) {
			continue
		}
		evt, err := fromEventModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zEventAll).Result()
	if err != nil {
		return 0, fmt.Errorf("hookrelay/redis: count events: %w", err)
	}
	return count, nil
}

// markDeliveredScript flips the status field of a PENDING event in place.
// KEYS[1] = event key
// ARGV[1] = updated_at (RFC 3339)
// Returns 0 when the key is missing, 1 otherwise.
var markDeliveredScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local evt = cjson.decode(raw)
if evt.status == 'PENDING' then
    evt.status = 'DELIVERED'
    evt.updated_at = ARGV[1]
    redis.call('SET', KEYS[1], cjson.encode(evt))
end
return 1
`)

func (s *Store) MarkDelivered(ctx context.Context, evtID id.ID) error {
	key := entityKey(prefixEvent, evtID.String())
	found, err := markDeliveredScript.Run(ctx, s.rdb, []string{key}, now().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("hookrelay/redis: mark delivered: %w", err)
	}
	if found == 0 {
		return event.ErrNotFound
	}
	return nil
}
