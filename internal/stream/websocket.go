package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/changi-qa/internal/session"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultKeepalive is the ping interval used when none is configured.
const DefaultKeepalive = 20 * time.Second

// Source publishes session snapshots.
type Source interface {
	Subscribe() (<-chan session.Snapshot, func())
}

// Handler streams session snapshots to a WebSocket client.
type Handler struct {
	source         Source
	cm             *Manager
	allowedOrigins []string
	isDev          bool
	keepalive      time.Duration
}

// NewHandler creates a new WebSocket handler.
func NewHandler(source Source, cm *Manager, allowedOrigins []string, isDev bool, keepalive time.Duration) *Handler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Handler{
		source:         source,
		cm:             cm,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		keepalive:      keepalive,
	}
}

// wsMessage is the envelope for both directions.
type wsMessage struct {
	Type    string            `json:"type"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewerID := uuid.NewString()

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "viewer_id", viewerID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "viewer_id", viewerID)
		}
	}()

	h.cm.Register(viewerID, ws)
	defer h.cm.Unregister(viewerID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, viewerID)
	}()

	h.outputLoop(ctx, ws, snapshots, viewerID)
	slog.Debug("Session stream ended", "viewer_id", viewerID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// inputLoop answers client pings and returns when the client goes away.
func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, viewerID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "viewer_id", viewerID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "viewer_id", viewerID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, snapshots <-chan session.Snapshot, viewerID string) {
	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, wsMessage{Type: "session", Session: &snap}); err != nil {
				slog.Debug("Failed to push snapshot", "error", err, "viewer_id", viewerID)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.keepalive)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket keepalive failed", "error", err, "viewer_id", viewerID)
				return
			}
		}
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
