package delivery

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/xraph/hookrelay/id"
)

// MaxSnippetLength caps the stored response body, in characters.
const MaxSnippetLength = 1000

// ErrRecordNotFound is returned when a delivery record cannot be found.
var ErrRecordNotFound = errors.New("hookrelay: delivery record not found")

// RecordStatus is the outcome class of a recorded attempt.
type RecordStatus string

const (
	// RecordSuccess marks a 2xx response.
	RecordSuccess RecordStatus = "SUCCESS"

	// RecordFailed marks a timeout, transport error, non-2xx response or
	// missing reference.
	RecordFailed RecordStatus = "FAILED"
)

// Record is an append-only audit row describing one delivery attempt.
// Records are never updated after they are written.
type Record struct {
	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// EventID references the delivered event.
	EventID id.ID `json:"eventId"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscriptionId"`

	// Status is SUCCESS or FAILED.
	Status RecordStatus `json:"status"`

	// ResponseCode is the HTTP status of a successful attempt.
	ResponseCode *int `json:"responseCode,omitempty"`

	// ResponseBody is the first MaxSnippetLength characters of the response.
	ResponseBody string `json:"responseBody,omitempty"`

	// ErrorMessage describes a failed attempt.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Attempts is the attempt number that produced this record.
	Attempts int `json:"attempts"`

	// Terminal is true when this failure ended its job lineage.
	Terminal bool `json:"terminal"`

	// CreatedAt is when the attempt was recorded.
	CreatedAt time.Time `json:"createdAt"`
}

// NewRecord builds the audit row for job's current attempt.
func NewRecord(job *Job, out Outcome, terminal bool) *Record {
	rec := &Record{
		ID:             id.NewRecordID(),
		EventID:        job.EventID,
		SubscriptionID: job.SubscriptionID,
		Attempts:       job.Attempt,
		CreatedAt:      time.Now().UTC(),
	}

	switch o := out.(type) {
	case Success:
		code := o.StatusCode
		rec.Status = RecordSuccess
		rec.ResponseCode = &code
		rec.ResponseBody = Snippet(o.BodySnippet, MaxSnippetLength)
	case Failure:
		rec.Status = RecordFailed
		rec.ErrorMessage = o.Message
		rec.Terminal = terminal
	}
	return rec
}

// ListOpts configures filtering and pagination for record listing.
// Zero values mean "no filter".
type ListOpts struct {
	Offset         int
	Limit          int
	EventID        id.ID
	SubscriptionID id.ID
	Status         RecordStatus
	Terminal       *bool
	From           *time.Time
	To             *time.Time
}

// Match reports whether rec satisfies the filters in opts.
func (opts ListOpts) Match(rec *Record) bool {
	if !opts.EventID.IsNil() && rec.EventID.String() != opts.EventID.String() {
		return false
	}
	if !opts.SubscriptionID.IsNil() && rec.SubscriptionID.String() != opts.SubscriptionID.String() {
		return false
	}
	if opts.Status != "" && rec.Status != opts.Status {
		return false
	}
	if opts.Terminal != nil && rec.Terminal != *opts.Terminal {
		return false
	}
	if opts.From != nil && rec.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && rec.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

// Snippet returns the first n characters of s.
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
