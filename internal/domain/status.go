// Package domain contains core domain types for the question-answering session.
package domain

// SessionStatus is the single authoritative status of an interactive session.
type SessionStatus string

const (
	StatusChecking           SessionStatus = "checking"
	StatusOK                 SessionStatus = "ok"
	StatusBackendUnavailable SessionStatus = "backend_unavailable"
	StatusTimeout            SessionStatus = "timeout"
	StatusQuotaExceeded      SessionStatus = "quota_exceeded"
	StatusInvalidKey         SessionStatus = "invalid_key"
	StatusError              SessionStatus = "error"
)

// Remediation names the affordance the presentation layer should offer.
type Remediation string

const (
	// RemediationNone means no user action is needed (or possible yet).
	RemediationNone Remediation = "none"
	// RemediationRetry means the user may re-probe without changing credentials.
	RemediationRetry Remediation = "retry"
	// RemediationCredential means a new credential is required before retrying.
	RemediationCredential Remediation = "credential"
)

// Dispatchable reports whether queries may be sent from this status.
func (s SessionStatus) Dispatchable() bool {
	return s == StatusOK
}

// Degraded reports whether the status blocks querying until remediated.
func (s SessionStatus) Degraded() bool {
	switch s {
	case StatusBackendUnavailable, StatusTimeout, StatusQuotaExceeded, StatusInvalidKey, StatusError:
		return true
	default:
		return false
	}
}

// Remediation returns the affordance exposed for the status.
func (s SessionStatus) Remediation() Remediation {
	switch s {
	case StatusBackendUnavailable, StatusTimeout:
		return RemediationRetry
	case StatusQuotaExceeded, StatusInvalidKey, StatusError:
		return RemediationCredential
	default:
		return RemediationNone
	}
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusChecking, StatusOK, StatusBackendUnavailable, StatusTimeout,
		StatusQuotaExceeded, StatusInvalidKey, StatusError:
		return true
	default:
		return false
	}
}

func (s SessionStatus) String() string {
	return string(s)
}

// StatusFromCategory maps a classified failure onto the session status it
// implies.
func StatusFromCategory(c ErrorCategory) SessionStatus {
	switch c {
	case CategoryQuotaExceeded:
		return StatusQuotaExceeded
	case CategoryInvalidCredential:
		return StatusInvalidKey
	case CategoryTimeout:
		return StatusTimeout
	case CategoryServiceUnavailable:
		return StatusBackendUnavailable
	default:
		return StatusError
	}
}
