package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/signature"
	"github.com/xraph/hookrelay/subscription"
)

// DefaultRequestTimeout bounds every outbound delivery.
const DefaultRequestTimeout = 5 * time.Second

// A rune is at most 4 bytes, so this is enough to fill a full snippet.
const maxResponseBody = 4 * MaxSnippetLength

// timestampLayout is ISO-8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Sender performs signed HTTP webhook delivery.
type Sender struct {
	client *http.Client
	signer *signature.Signer
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
		signer: signature.NewSigner(),
	}
}

// Send POSTs the event payload to the subscription and classifies the result.
// The body is the stored payload bytes, unchanged, and the signature covers
// exactly those bytes.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, evt *event.Event, attempt int) Outcome {
	body := []byte(evt.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return Failure{Message: fmt.Sprintf("create request: %v", err), Reason: ReasonDelivery}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hookrelay/1.0")
	req.Header.Set(signature.HeaderSignature, s.signer.Sign(sub.Secret, body))
	req.Header.Set(signature.HeaderEvent, evt.Type)
	req.Header.Set(signature.HeaderTimestamp, time.Now().UTC().Format(timestampLayout))
	req.Header.Set(signature.HeaderEventID, evt.ID.String())
	req.Header.Set(signature.HeaderAttempt, strconv.Itoa(attempt))

	resp, err := s.client.Do(req) //nolint:gosec // G704: target URL is a registered webhook destination.
	if err != nil {
		return Failure{Message: err.Error(), Reason: ReasonDelivery}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the keep-alive connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return Failure{
			Message: fmt.Sprintf("unexpected status code %d", resp.StatusCode),
			Reason:  ReasonDelivery,
		}
	}

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Failure{Message: fmt.Sprintf("read response: %v", readErr), Reason: ReasonDelivery}
	}

	return Success{
		StatusCode:  resp.StatusCode,
		BodySnippet: Snippet(string(respBody), MaxSnippetLength),
	}
}
