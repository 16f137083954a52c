package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/config"
	"github.com/onnwee/chatpilot/telemetry"
)

// HandleAdminMonitorStart starts monitoring. The body may name a chat handle directly
// or a YouTube video id to resolve; with neither, the configured default is used.
func (h *Handlers) HandleAdminMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Handle  string `json:"handle"`
		VideoID string `json:"video_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	handle := strings.TrimSpace(req.Handle)
	videoID := strings.TrimSpace(req.VideoID)
	if handle == "" && videoID == "" {
		switch h.Config.Platform {
		case config.PlatformTwitch:
			handle = h.Config.TwitchChannel
		default:
			videoID = h.Config.YTVideoID
		}
	}
	if handle == "" && videoID != "" {
		if h.ResolveVideo == nil {
			http.Error(w, "video lookup not available for this platform", http.StatusBadRequest)
			return
		}
		resolved, err := h.ResolveVideo(r.Context(), videoID)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, chat.ErrNotLive) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		handle = resolved
	}
	if err := h.Monitor.Start(handle); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("monitor started via api", slog.String("handle", handle))
	writeJSON(w, http.StatusOK, h.Monitor.Status())
}

// HandleAdminMonitorStop stops monitoring. Stopping an idle monitor succeeds.
func (h *Handlers) HandleAdminMonitorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.Monitor.Stop()
	writeJSON(w, http.StatusOK, h.Monitor.Status())
}

// HandleAdminSend posts an operator message into the monitored chat.
func (h *Handlers) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	if !h.Monitor.Status().Running {
		http.Error(w, "monitor is not running", http.StatusConflict)
		return
	}
	if !h.Monitor.Send(r.Context(), req.Text) {
		http.Error(w, "send failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

// HandleAdminPending lists sends waiting for the requeue sweep.
func (h *Handlers) HandleAdminPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending := []chat.PendingSend{}
	if h.Pending != nil {
		pending = append(pending, h.Pending()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending, "count": len(pending)})
}
