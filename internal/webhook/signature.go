package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks the authenticity of inbound webhook payloads using
// hex-encoded HMAC-SHA256 over the exact raw request body.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. An empty secret yields a disabled
// verifier: callers must treat that as an explicit opt-out, not a
// fallthrough, and check Enabled before relying on Verify.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify reports whether signature matches the HMAC-SHA256 digest of
// rawBody. Absent or malformed signatures fail; comparison is constant
// time.
func (v *Verifier) Verify(rawBody []byte, signature string) bool {
	if !v.Enabled() || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the hex signature for a payload. Used by tests and by
// tooling that replays archived events.
func (v *Verifier) Sign(rawBody []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
