package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/subscription"
)

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:hookrelay_events"`

	ID        string    `grove:"id,pk"`
	EventType string    `grove:"event_type"`
	Payload   string    `grove:"payload"`
	Status    string    `grove:"status"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
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
	grove.BaseModel `grove:"table:hookrelay_subscriptions"`

	ID         string    `grove:"id,pk"`
	ClientName string    `grove:"client_name"`
	EventType  string    `grove:"event_type"`
	TargetURL  string    `grove:"target_url"`
	Secret     string    `grove:"secret"`
	IsActive   bool      `grove:"is_active"`
	CreatedAt  time.Time `grove:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"`
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
	grove.BaseModel `grove:"table:hookrelay_jobs"`

	ID             string     `grove:"id,pk"`
	EventID        string     `grove:"event_id"`
	SubscriptionID string     `grove:"subscription_id"`
	IsRetry        bool       `grove:"is_retry"`
	Attempt        int        `grove:"attempt"`
	NextRunAt      time.Time  `grove:"next_run_at"`
	State          string     `grove:"state"`
	ClaimedAt      *time.Time `grove:"claimed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
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
	grove.BaseModel `grove:"table:hookrelay_records"`

	ID             string    `grove:"id,pk"`
	EventID        string    `grove:"event_id"`
	SubscriptionID string    `grove:"subscription_id"`
	Status         string    `grove:"status"`
	ResponseCode   *int      `grove:"response_code"`
	ResponseBody   string    `grove:"response_body"`
	ErrorMessage   string    `grove:"error_message"`
	Attempts       int       `grove:"attempts"`
	Terminal       bool      `grove:"terminal"`
	CreatedAt      time.Time `grove:"created_at"`
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
