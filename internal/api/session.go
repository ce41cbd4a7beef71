package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/changi-qa/internal/domain"
)

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

// GetSession returns the current session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.session.Snapshot())
}

// Ready reports 200 only while questions can be dispatched.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	status := http.StatusOK
	if !snap.Status.Dispatchable() {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, map[string]interface{}{
		"status":      snap.Status,
		"degraded":    snap.Status.Degraded(),
		"remediation": snap.Remediation,
	})
}

// Start re-runs the initial health probe.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session.Start(detached(r))
	if err != nil {
		h.logger.Warn("Session start rejected", "error", err)
		sessionError(w, err, snap)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// Retry re-probes after an availability failure.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session.Retry(detached(r))
	if err != nil {
		h.logger.Warn("Session retry rejected", "error", err, "status", snap.Status)
		sessionError(w, err, snap)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// SubmitCredential stores a user API key and re-validates the session.
func (h *Handler) SubmitCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, statusForError(err), err.Error())
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		Error(w, http.StatusBadRequest, "Please provide a valid API key.")
		return
	}

	snap, err := h.session.SubmitCredential(detached(r), req.APIKey)
	if err != nil {
		h.logger.Warn("Credential submission rejected", "error", err, "status", snap.Status)
		sessionError(w, err, snap)
		return
	}
	if snap.Status != domain.StatusOK {
		h.logger.Info("Submitted credential did not restore session", "status", snap.Status)
	}
	JSON(w, http.StatusOK, snap)
}

// ClearCredential drops the user API key and re-validates with the default.
func (h *Handler) ClearCredential(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session.ClearCredential(detached(r))
	if err != nil {
		h.logger.Warn("Credential clear rejected", "error", err, "status", snap.Status)
		sessionError(w, err, snap)
		return
	}
	JSON(w, http.StatusOK, snap)
}
