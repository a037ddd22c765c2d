// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// The signature is the lowercase hex HMAC-SHA256 of the exact request body,
// keyed with the subscription secret. Receivers recompute it over the raw
// bytes they read and compare in constant time.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names carried on every outbound delivery.
const (
	HeaderSignature = "X-Relay-Signature"
	HeaderEvent     = "X-Relay-Event"
	HeaderTimestamp = "X-Relay-Timestamp"
	HeaderEventID   = "X-Relay-Event-ID"
	HeaderAttempt   = "X-Relay-Delivery-Attempt"
)

// Signer computes and verifies payload signatures.
type Signer struct{}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed with secret.
func (s *Signer) Sign(secret string, payload []byte) string {
	return Sign(secret, payload)
}

// Verify reports whether sig is the signature of payload under secret.
func (s *Signer) Verify(secret string, payload []byte, sig string) bool {
	return Verify(secret, payload, sig)
}

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed with secret.
func Sign(secret string, payload []byte) string {
	return hex.EncodeToString(mac(secret, payload))
}

// Verify reports whether sig is the signature of payload under secret.
// The comparison runs in constant time over the decoded digest.
func Verify(secret string, payload []byte, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, payload), got)
}

func mac(secret string, payload []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(payload)
	return m.Sum(nil)
}
