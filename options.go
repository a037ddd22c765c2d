package hookrelay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/hookrelay/catalog"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/observability"
	"github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/subscription"
)

// Relay is the root webhook delivery engine.
type Relay struct {
	config  Config
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	schemas map[string]json.RawMessage

	catalog         *catalog.Catalog
	subscriptionSvc *subscription.Service
	scheduler       *delivery.Scheduler
	dispatcher      *delivery.Dispatcher
	engine          *delivery.Engine
	dlqSvc          *dlq.Service

	mu      sync.Mutex
	started bool
}

// Option configures a Relay instance.
type Option func(*Relay) error

// New creates a new Relay with the given options.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		config:  DefaultConfig(),
		logger:  slog.Default(),
		schemas: make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.store == nil {
		return nil, ErrNoStore
	}
	if err := r.wireServices(); err != nil {
		return nil, err
	}
	return r, nil
}

// WithStore sets the persistence backend for the Relay instance.
func WithStore(s store.Store) Option {
	return func(r *Relay) error {
		r.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Relay instance.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override single fields.
func WithConfig(cfg Config) Option {
	return func(r *Relay) error {
		r.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(r *Relay) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(r *Relay) error {
		r.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the attempt budget of a job lineage.
func WithMaxAttempts(n int) Option {
	return func(r *Relay) error {
		r.config.MaxAttempts = n
		return nil
	}
}

// WithBaseDelay sets the backoff after the first failed attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.BaseDelay = d
		return nil
	}
}

// WithClaimTimeout sets how long a claimed job may go unreported.
func WithClaimTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.ClaimTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.config.ShutdownTimeout = d
		return nil
	}
}

// WithRateLimit caps deliveries per second to each subscription.
func WithRateLimit(perSecond float64) Option {
	return func(r *Relay) error {
		r.config.RateLimit = perSecond
		return nil
	}
}

// WithMetrics enables Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) error {
		r.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans around ingestion and delivery.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Relay) error {
		r.tracer = t
		return nil
	}
}

// WithEventSchema validates payloads of eventType against a JSON Schema.
func WithEventSchema(eventType string, schema json.RawMessage) Option {
	return func(r *Relay) error {
		r.schemas[eventType] = schema
		return nil
	}
}
