package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/subscription"
)

// --- Event models ---

type eventModel struct {
	bun.BaseModel `bun:"table:hookrelay_events,alias:e"`

	ID        string    `bun:"id,pk"`
	EventType string    `bun:"event_type,notnull"`
	Payload   string    `bun:"payload,notnull"`
	Status    string    `bun:"status,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
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

// --- Subscription models ---

type subscriptionModel struct {
	bun.BaseModel `bun:"table:hookrelay_subscriptions,alias:s"`

	ID         string    `bun:"id,pk"`
	ClientName string    `bun:"client_name,notnull"`
	EventType  string    `bun:"event_type,notnull"`
	TargetURL  string    `bun:"target_url,notnull"`
	Secret     string    `bun:"secret,notnull"`
	IsActive   bool      `bun:"is_active,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:         sub.ID.String(),
		ClientName: sub.ClientName,
		EventType:  sub.EventType,
		TargetURL:  sub.TargetURL,
		Secret:     sub.Secret,
		IsActive:   sub.IsActive,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         subID,
		ClientName: m.ClientName,
		EventType:  m.EventType,
		TargetURL:  m.TargetURL,
		Secret:     m.Secret,
		IsActive:   m.IsActive,
	}, nil
}

// --- Job models ---

type jobModel struct {
	bun.BaseModel `bun:"table:hookrelay_jobs,alias:j"`

	ID             string     `bun:"id,pk"`
	EventID        string     `bun:"event_id,notnull"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	IsRetry        bool       `bun:"is_retry,notnull"`
	Attempt        int        `bun:"attempt,notnull"`
	NextRunAt      time.Time  `bun:"next_run_at,notnull"`
	State          string     `bun:"state,notnull"`
	ClaimedAt      *time.Time `bun:"claimed_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
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

// --- Record models ---

type recordModel struct {
	bun.BaseModel `bun:"table:hookrelay_records,alias:r"`

	ID             string    `bun:"id,pk"`
	EventID        string    `bun:"event_id,notnull"`
	SubscriptionID string    `bun:"subscription_id,notnull"`
	Status         string    `bun:"status,notnull"`
	ResponseCode   *int      `bun:"response_code"`
	ResponseBody   string    `bun:"response_body,notnull"`
	ErrorMessage   string    `bun:"error_message,notnull"`
	Attempts       int       `bun:"attempts,notnull"`
	Terminal       bool      `bun:"terminal,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
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
