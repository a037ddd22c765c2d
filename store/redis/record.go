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
)

// recordModel is the JSON representation stored in Redis.
type recordModel struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	SubscriptionID string    `json:"subscription_id"`
	Status         string    `json:"status"`
	ResponseCode   *int      `json:"response_code,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Attempts       int       `json:"attempts"`
	Terminal       bool      `json:"terminal"`
	CreatedAt      time.Time `json:"created_at"`
}

func toRecordModel(rec *delivery.Record) *recordModel {
	return &recordModel{
		ID:             rec.ID.String(),
		EventID:        rec.EventID.String(),
		SubscriptionID: rec.SubscriptionID.String(),
		Status:         string(rec.Status),
		ResponseCode:   rec.ResponseCode,
		ResponseBody:   rec.ResponseBody,
		ErrorMessage:   rec.ErrorMessage,
		Attempts:       rec.Attempts,
		Terminal:       rec.Terminal,
		CreatedAt:      rec.CreatedAt,
	}
}

func fromRecordModel(m *recordModel) (*delivery.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Record{
		ID:             recID,
		EventID:        evtID,
		SubscriptionID: subID,
		Status:         delivery.RecordStatus(m.Status),
		ResponseCode:   m.ResponseCode,
		ResponseBody:   m.ResponseBody,
		ErrorMessage:   m.ErrorMessage,
		Attempts:       m.Attempts,
		Terminal:       m.Terminal,
		CreatedAt:      m.CreatedAt,
	}, nil
}

func isDeadLetter(m *recordModel) bool {
	return m.Terminal && m.Status == string(delivery.RecordFailed)
}

func (s *Store) AppendRecord(ctx context.Context, rec *delivery.Record) error {
	m := toRecordModel(rec)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookrelay/redis: append record marshal: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entityKey(prefixRecord, m.ID), raw, 0)
	pipe.ZAdd(ctx, zRecordAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zRecordEvent+m.EventID, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zRecordSub+m.SubscriptionID, goredis.Z{Score: score, Member: m.ID})
	if isDeadLetter(m) {
		pipe.ZAdd(ctx, zRecordDead, goredis.Z{Score: score, Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: append record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	var m recordModel
	if err := s.getEntity(ctx, entityKey(prefixRecord, recID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, delivery.ErrRecordNotFound
		}
		return nil, fmt.Errorf("hookrelay/redis: get record: %w", err)
	}
	return fromRecordModel(&m)
}

func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	result, err := s.matchRecords(ctx, opts)
	if err != nil {
		return nil, err
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountRecords(ctx context.Context, opts delivery.ListOpts) (int64, error) {
	if index, ok := exactIndex(opts); ok {
		count, err := s.rdb.ZCard(ctx, index).Result()
		if err != nil {
			return 0, fmt.Errorf("hookrelay/redis: count records: %w", err)
		}
		return count, nil
	}

	result, err := s.matchRecords(ctx, opts)
	if err != nil {
		return 0, err
	}
	return int64(len(result)), nil
}

// matchRecords loads every record matching opts, newest first.
func (s *Store) matchRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	ids, err := s.zRangeByScoreIDs(ctx, recordIndex(opts),
		timeBound(opts.From, math.Inf(-1)),
		timeBound(opts.To, math.Inf(1)))
	if err != nil {
		return nil, fmt.Errorf("hookrelay/redis: list records: %w", err)
	}

	result := make([]*delivery.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m recordModel
		if err := s.getEntity(ctx, entityKey(prefixRecord, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		rec, err := fromRecordModel(&m)
		if err != nil {
			return nil, err
		}
		if !opts.Match(rec) {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// recordIndex picks the narrowest sorted set that covers opts.
func recordIndex(opts delivery.ListOpts) string {
	switch {
	case !opts.EventID.IsNil():
		return zRecordEvent + opts.EventID.String()
	case !opts.SubscriptionID.IsNil():
		return zRecordSub + opts.SubscriptionID.String()
	case opts.Status == delivery.RecordFailed && opts.Terminal != nil && *opts.Terminal:
		return zRecordDead
	default:
		return zRecordAll
	}
}

// exactIndex reports whether the cardinality of a single index answers opts.
func exactIndex(opts delivery.ListOpts) (string, bool) {
	if opts.From != nil || opts.To != nil || !opts.EventID.IsNil() || !opts.SubscriptionID.IsNil() {
		return "", false
	}
	switch {
	case opts.Status == "" && opts.Terminal == nil:
		return zRecordAll, true
	case opts.Status == delivery.RecordFailed && opts.Terminal != nil && *opts.Terminal:
		return zRecordDead, true
	default:
		return "", false
	}
}
