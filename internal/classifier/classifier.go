// Package classifier maps raw backend outcomes onto canonical error categories.
//
// The backend exposes no machine-readable error taxonomy, so classification
// sniffs status codes and free text. All of that heuristic lives here.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/containerd/errdefs"
)

// maxDetailLen bounds the raw detail surfaced to the presentation layer.
const maxDetailLen = 512

// Outcome is the raw result of one HTTP exchange with the backend.
// Err is set only when no response was received. Truncated marks a body cut
// at the client's size limit.
type Outcome struct {
	StatusCode int
	Body       []byte
	Err        error
	Truncated  bool
}

// Success reports whether the outcome is a 2xx response.
func (o Outcome) Success() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode < 300
}

// Classify returns the category for a non-2xx or faulted outcome. Rules apply
// in order: transport timeout, transport fault, 403/429, "quota" anywhere in
// the body, 401, 500, anything else. Key-rejection text in the body is not
// trusted; only the 401 status marks a rejected credential.
//
// A 2xx outcome is not a failure; callers must not classify it, and doing so
// yields CategoryUnknown.
func Classify(o Outcome) domain.ErrorCategory {
	if o.Err != nil {
		if IsTimeout(o.Err) {
			return domain.CategoryTimeout
		}
		return domain.CategoryServiceUnavailable
	}

	switch o.StatusCode {
	case 403, 429:
		return domain.CategoryQuotaExceeded
	}

	body := strings.ToLower(string(o.Body))
	if strings.Contains(body, "quota") {
		return domain.CategoryQuotaExceeded
	}
	if o.StatusCode == 401 {
		return domain.CategoryInvalidCredential
	}
	if o.StatusCode == 500 {
		return domain.CategoryServerError
	}
	return domain.CategoryUnknown
}

// ClassifySignal maps a non-"ok" health token onto a category.
func ClassifySignal(token string) domain.ErrorCategory {
	t := strings.ToLower(strings.TrimSpace(token))
	switch {
	case strings.Contains(t, "quota"), strings.Contains(t, "rate_limit"), strings.Contains(t, "exhausted"):
		return domain.CategoryQuotaExceeded
	case strings.Contains(t, "invalid"), strings.Contains(t, "unauthorized"), strings.Contains(t, "key"):
		return domain.CategoryInvalidCredential
	case strings.Contains(t, "timeout"):
		return domain.CategoryTimeout
	case strings.Contains(t, "unavailable"), strings.Contains(t, "down"):
		return domain.CategoryServiceUnavailable
	case t == "error", strings.Contains(t, "server"):
		return domain.CategoryServerError
	default:
		return domain.CategoryUnknown
	}
}

// IsTimeout reports whether a transport error is a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errdefs.IsDeadlineExceeded(err) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsCanceled reports whether the caller abandoned the exchange.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Detail renders a short human-readable description of a failed outcome.
// JSON bodies contribute their "detail" (or "error") string.
func Detail(o Outcome) string {
	if o.Err != nil {
		return truncate(o.Err.Error())
	}
	text := strings.TrimSpace(string(o.Body))
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(o.Body, &payload); err == nil {
		var s string
		switch {
		case len(payload.Detail) > 0 && json.Unmarshal(payload.Detail, &s) == nil && s != "":
			text = s
		case len(payload.Detail) > 0 && string(payload.Detail) != "null":
			text = string(payload.Detail)
		case payload.Error != "":
			text = payload.Error
		}
	}
	if text == "" {
		return fmt.Sprintf("%d", o.StatusCode)
	}
	return truncate(fmt.Sprintf("%d - %s", o.StatusCode, text))
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
