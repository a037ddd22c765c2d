package subscription

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/signature"
)

var targetURLPattern = regexp.MustCompile(`^https?://.+$`)

// Service provides subscription management operations.
type Service struct {
	store        Store
	secretLength int
	logger       *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		secretLength: signature.DefaultSecretLength,
		logger:       logger,
	}
}

// Register validates the input, generates a signing secret and persists an
// active subscription. The returned value is the only place the secret is
// exposed.
func (svc *Service) Register(ctx context.Context, in Input) (*Registered, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		ClientName: in.ClientName,
		EventType:  in.EventType,
		TargetURL:  in.TargetURL,
		Secret:     signature.GenerateSecret(svc.secretLength),
		IsActive:   true,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "subscription registered",
		"subscription_id", sub.ID,
		"client", sub.ClientName,
		"event_type", sub.EventType,
	)
	return &Registered{Subscription: sub, Secret: sub.Secret}, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// List returns subscriptions matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, opts)
}

// SetActive enables or disables a subscription and returns its new state.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool) (*Subscription, error) {
	if err := svc.store.SetActive(ctx, subID, active); err != nil {
		return nil, err
	}
	svc.logger.InfoContext(ctx, "subscription updated", "subscription_id", subID, "active", active)
	return svc.store.GetSubscription(ctx, subID)
}

// Delete removes a subscription. Jobs already queued for it fail terminally
// when they are dequeued.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	if err := svc.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "subscription deleted", "subscription_id", subID)
	return nil
}

// Validate checks a registration payload.
func (in Input) Validate() error {
	if strings.TrimSpace(in.ClientName) == "" {
		return &ValidationError{Field: "clientName", Message: "invalid or missing"}
	}
	if strings.TrimSpace(in.EventType) == "" {
		return &ValidationError{Field: "eventType", Message: "invalid or missing"}
	}
	if !targetURLPattern.MatchString(in.TargetURL) {
		return &ValidationError{Field: "targetUrl", Message: "must be an http or https URL"}
	}
	return nil
}

// ValidationError indicates invalid registration input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
