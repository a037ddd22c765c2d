package signature

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("signature: missing " + HeaderSignature + " header")

	// ErrInvalidSignature is returned when the signature does not match the body.
	ErrInvalidSignature = errors.New("signature: invalid signature")
)

// VerifyRequest reads the body of an incoming webhook and checks it against
// the signature header. It returns the body so callers can decode it.
func VerifyRequest(r *http.Request, secret string) ([]byte, error) {
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return nil, ErrMissingSignature
	}

	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("signature: read body: %w", err)
	}

	if !Verify(secret, body, sig) {
		return nil, ErrInvalidSignature
	}
	return body, nil
}
