package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/ashureev/changi-qa/internal/session"
	"github.com/containerd/errdefs"
)

var errThrottled = fmt.Errorf("%w: too many questions", errdefs.ErrResourceExhausted)

type askRequest struct {
	Question string `json:"question"`
}

type failureResponse struct {
	Error    string               `json:"error"`
	Category domain.ErrorCategory `json:"category"`
	Detail   string               `json:"detail,omitempty"`
	Session  session.Snapshot     `json:"session"`
}

// Ask dispatches a question through the session.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, statusForError(err), err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		Error(w, http.StatusBadRequest, "Please enter a question.")
		return
	}

	result, err := h.session.Ask(detached(r), question, h.admit)
	if errors.Is(err, errThrottled) {
		h.logger.Warn("Ask throttled")
		Error(w, http.StatusTooManyRequests, "Too many questions. Please wait a moment and try again.")
		return
	}
	if err != nil {
		sessionError(w, err, h.session.Snapshot())
		return
	}
	if ferr := result.Err(); ferr != nil {
		f := result.Failure
		h.logger.Warn("Question failed", "category", f.Category)
		JSON(w, statusForError(ferr), failureResponse{
			Error:    failureMessage(f),
			Category: f.Category,
			Detail:   f.Detail,
			Session:  h.session.Snapshot(),
		})
		return
	}
	JSON(w, http.StatusOK, result.Answer)
}

// admit spends a throttle token. The session calls it only once the question
// is known to be dispatchable.
func (h *Handler) admit() error {
	if h.limiter != nil && !h.limiter.Allow() {
		return errThrottled
	}
	return nil
}

// failureMessage is the user-facing copy for a failed question.
func failureMessage(f *domain.Failure) string {
	switch f.Category {
	case domain.CategoryQuotaExceeded:
		return "API quota may have been exceeded. Please wait a few minutes and try again, or enter another API key."
	case domain.CategoryInvalidCredential:
		return "The API key was rejected. Please provide a valid API key."
	case domain.CategoryTimeout:
		return "Request timed out. Try again later."
	case domain.CategoryServiceUnavailable:
		return "The answering service is unreachable. Try again later."
	case domain.CategoryServerError:
		return "The answering service failed to generate an answer."
	default:
		if f.Detail != "" {
			return "Unexpected error: " + f.Detail
		}
		return "Unexpected error."
	}
}
