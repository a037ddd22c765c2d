package hookrelay

import "time"

// Config holds the configuration for a Relay instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the attempt budget of one job lineage.
	MaxAttempts int

	// BaseDelay is the backoff after the first failed attempt. Each later
	// failure doubles it.
	BaseDelay time.Duration

	// ClaimTimeout is how long a dequeued job may stay unreported before
	// another worker picks it up.
	ClaimTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// RateLimit caps deliveries per second to one subscription.
	// Zero disables throttling.
	RateLimit float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    1 * time.Second,
		BatchSize:       50,
		RequestTimeout:  5 * time.Second,
		MaxAttempts:     5,
		BaseDelay:       5 * time.Second,
		ClaimTimeout:    1 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}
