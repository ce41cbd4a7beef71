// Package credential decides which API key a session sends to the backend.
package credential

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/containerd/errdefs"
)

// ErrBlank is returned when a submitted credential is empty after trimming.
var ErrBlank = fmt.Errorf("%w: credential is blank", errdefs.ErrInvalidArgument)

// Resolver prefers the session's user credential over the process-wide
// default. At most one user credential is held; resubmission replaces it.
type Resolver struct {
	mu       sync.RWMutex
	fallback domain.Credential
	user     domain.Credential
	logger   *slog.Logger
}

// NewResolver creates a resolver with an optional default credential.
// A zero default is a valid, degraded configuration.
func NewResolver(fallback domain.Credential, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fallback: fallback, logger: logger}
}

// Resolve returns the credential to use for the next attempt.
func (r *Resolver) Resolve() (domain.Credential, domain.CredentialSource) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case !r.user.IsZero():
		return r.user, domain.SourceUser
	case !r.fallback.IsZero():
		return r.fallback, domain.SourceDefault
	default:
		return domain.Credential{}, domain.SourceNone
	}
}

// Submit stores candidate as the user credential. Blank input is rejected and
// leaves any previous credential in place.
func (r *Resolver) Submit(candidate string) error {
	c := domain.NewCredential(candidate)
	if c.IsZero() {
		r.logger.Warn("Rejected blank credential submission")
		return ErrBlank
	}

	r.mu.Lock()
	replaced := !r.user.IsZero()
	r.user = c
	r.mu.Unlock()

	r.logger.Info("User credential stored", "credential", c, "replaced", replaced)
	return nil
}

// Clear drops the user credential so the default applies again.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = domain.Credential{}
}

// SetDefault replaces the process-wide default, e.g. after the env file
// was edited. A held user credential keeps precedence.
func (r *Resolver) SetDefault(c domain.Credential) {
	r.mu.Lock()
	r.fallback = c
	r.mu.Unlock()
	r.logger.Info("Default credential replaced", "credential", c)
}

// HasDefault reports whether a default credential is configured.
func (r *Resolver) HasDefault() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.fallback.IsZero()
}

// HasUser reports whether a user credential is held.
func (r *Resolver) HasUser() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.user.IsZero()
}
