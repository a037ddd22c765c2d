package delivery

// Outcome is the result of one delivery attempt. It is either Success or
// Failure; no other implementations exist.
type Outcome interface {
	outcome()
}

// Success is a 2xx response.
type Success struct {
	StatusCode  int
	BodySnippet string
}

// Failure is any attempt that did not produce a 2xx response.
type Failure struct {
	Message string
	Reason  Reason
}

func (Success) outcome() {}
func (Failure) outcome() {}

// Reason classifies a failure for the scheduler.
type Reason int

const (
	// ReasonDelivery covers timeouts, connection errors and non-2xx responses.
	ReasonDelivery Reason = iota

	// ReasonMissingReference means the event or subscription no longer exists.
	ReasonMissingReference
)

// String returns the reason name used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case ReasonDelivery:
		return "delivery"
	case ReasonMissingReference:
		return "missing_reference"
	default:
		return "unknown"
	}
}

// Retryable reports whether the scheduler may try the job again.
func (f Failure) Retryable() bool {
	return f.Reason == ReasonDelivery
}
