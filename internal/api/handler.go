// Package api provides HTTP handlers for the question-answering session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/changi-qa/internal/config"
	"github.com/ashureev/changi-qa/internal/domain"
	"github.com/ashureev/changi-qa/internal/session"
	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Session is the state machine the handlers drive.
type Session interface {
	Start(ctx context.Context) (session.Snapshot, error)
	Retry(ctx context.Context) (session.Snapshot, error)
	SubmitCredential(ctx context.Context, candidate string) (session.Snapshot, error)
	ClearCredential(ctx context.Context) (session.Snapshot, error)
	Ask(ctx context.Context, question string, admit func() error) (domain.QueryResult, error)
	Snapshot() session.Snapshot
}

// Handler serves the session API.
type Handler struct {
	session Session
	cfg     *config.Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHandler creates a handler. Ask throttling follows cfg.Ask; a zero rate
// disables it.
func NewHandler(sess Session, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{session: sess, cfg: cfg, logger: logger}
	if cfg != nil && cfg.Ask.RatePerMinute > 0 {
		every := time.Minute / time.Duration(cfg.Ask.RatePerMinute)
		h.limiter = rate.NewLimiter(rate.Every(every), cfg.Ask.Burst)
	}
	return h
}

// RegisterRoutes registers session and ask routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/ready", h.Ready)
		r.Get("/session", h.GetSession)
		r.Post("/session/start", h.Start)
		r.Post("/session/retry", h.Retry)
		r.Post("/session/credential", h.SubmitCredential)
		r.Delete("/session/credential", h.ClearCredential)
		r.Post("/ask", h.Ask)
	})
}

// GetConfig returns the public configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"has_default_credential": h.session.Snapshot().HasDefaultCredential,
	}
	if h.cfg != nil {
		resp["backend_url"] = h.cfg.Backend.BaseURL
		resp["health_timeout_seconds"] = int64(h.cfg.Backend.HealthTimeout.Seconds())
		resp["query_timeout_seconds"] = int64(h.cfg.Backend.QueryTimeout.Seconds())
	}
	JSON(w, http.StatusOK, resp)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// sessionError writes err along with the session it applied to.
func sessionError(w http.ResponseWriter, err error, snap session.Snapshot) {
	JSON(w, statusForError(err), map[string]interface{}{
		"error":   err.Error(),
		"session": snap,
	})
}

// statusForError maps errdefs classes onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errdefs.IsConflict(err), errdefs.IsFailedPrecondition(err):
		return http.StatusConflict
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsResourceExhausted(err):
		return http.StatusTooManyRequests
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsInternal(err), errdefs.IsUnknown(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", errdefs.ErrInvalidArgument, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid request body", errdefs.ErrInvalidArgument)
	}
	return nil
}

// detached keeps request values but drops client cancellation, so a closed
// tab cannot leave the session stuck in checking.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
