package domain

import (
	"context"

	"github.com/containerd/errdefs"
)

// ErrorCategory is the canonical classification of a failed backend call.
type ErrorCategory string

const (
	CategoryQuotaExceeded      ErrorCategory = "quota_exceeded"
	CategoryInvalidCredential  ErrorCategory = "invalid_credential"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryServiceUnavailable ErrorCategory = "service_unavailable"
	CategoryServerError        ErrorCategory = "server_error"
	CategoryUnknown            ErrorCategory = "unknown"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// Sentinel returns the errdefs sentinel the category unwraps to.
func (c ErrorCategory) Sentinel() error {
	switch c {
	case CategoryQuotaExceeded:
		return errdefs.ErrResourceExhausted
	case CategoryInvalidCredential:
		return errdefs.ErrUnauthenticated
	case CategoryTimeout:
		return context.DeadlineExceeded
	case CategoryServiceUnavailable:
		return errdefs.ErrUnavailable
	case CategoryServerError:
		return errdefs.ErrInternal
	default:
		return errdefs.ErrUnknown
	}
}

// NeedsCredential reports whether recovering from the category requires a
// fresh credential rather than a plain retry.
func (c ErrorCategory) NeedsCredential() bool {
	switch c {
	case CategoryTimeout, CategoryServiceUnavailable:
		return false
	default:
		return true
	}
}
