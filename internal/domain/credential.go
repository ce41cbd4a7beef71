package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// Credential is an opaque API key. Its zero value means "no credential".
//
// String, LogValue and MarshalText never expose the secret; use Reveal only
// when building a request body.
type Credential struct {
	secret string
}

// NewCredential trims the raw value. A blank value yields the zero Credential.
func NewCredential(raw string) Credential {
	return Credential{secret: strings.TrimSpace(raw)}
}

// IsZero reports whether no secret is held.
func (c Credential) IsZero() bool {
	return c.secret == ""
}

// Reveal returns the secret for wire use.
func (c Credential) Reveal() string {
	return c.secret
}

// Fingerprint returns the first eight hex chars of the secret's SHA-256.
func (c Credential) Fingerprint() string {
	if c.secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.secret))
	return hex.EncodeToString(h[:4])
}

func (c Credential) String() string {
	if c.secret == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.secret), c.Fingerprint())
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// MarshalText keeps credentials out of accidental JSON encodings.
func (c Credential) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// CredentialSource identifies where a resolved credential came from.
type CredentialSource string

const (
	SourceNone    CredentialSource = "none"
	SourceUser    CredentialSource = "user"
	SourceDefault CredentialSource = "default"
)
