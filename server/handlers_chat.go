package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatpilot/db"
	"github.com/onnwee/chatpilot/telemetry"
)

// sseKeepalive is how often an idle stream gets a comment line.
var sseKeepalive = 15 * time.Second

// HandleChatStream relays live chat messages as Server-Sent Events until the client goes away.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Broadcaster == nil {
		http.Error(w, "streaming not configured", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// the server write timeout would otherwise cut long-lived streams
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	msgs, cancel := h.Broadcaster.Listen()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := telemetry.LoggerWithCorr(r.Context())
	logger.Debug("chat stream opened", slog.String("component", "http"))
	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("chat stream closed", slog.String("component", "http"))
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case m, ok := <-msgs:
			if !ok {
				return
			}
			b, err := json.Marshal(m)
			if err != nil {
				logger.Warn("chat stream: marshal", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleChatRecent returns recorded messages for a handle, newest first.
// The handle defaults to the one currently monitored.
func (h *Handlers) HandleChatRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.DB == nil {
		http.Error(w, "no database configured", http.StatusServiceUnavailable)
		return
	}
	handle := r.URL.Query().Get("handle")
	if handle == "" && h.Monitor != nil {
		handle = h.Monitor.Status().Handle
	}
	if handle == "" {
		http.Error(w, "handle required", http.StatusBadRequest)
		return
	}
	rows, err := db.RecentChatMessages(r.Context(), h.DB, handle, parseIntQuery(r, "limit", 100))
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("recent chat query", slog.Any("err", err))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []db.ChatRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}
