package server

import (
	"net/http"

	"github.com/onnwee/chatpilot/chat"
)

// HandleConfig returns the non-secret effective configuration.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c := h.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"platform":               c.Platform,
		"poll_interval_seconds":  c.PollInterval.Seconds(),
		"send_cooldown_seconds":  c.SendCooldown.Seconds(),
		"cooldown_seconds":       c.ReplyCooldown.Seconds(),
		"idle_enabled":           c.IdleEnabled,
		"idle_interval_seconds":  c.IdleInterval.Seconds(),
		"idle_messages":          len(c.IdleMessages),
		"muted_authors":          c.MutedAuthors,
		"banned_terms":           len(c.BannedTerms),
		"trigger_terms":          c.TriggerTerms,
		"max_retries":            c.MaxRetries,
		"retry_delay_seconds":    c.RetryDelay.Seconds(),
		"queue_failed_sends":     c.QueueFailedSends,
		"responder":              c.ResponderProvider,
		"persona_name":           c.PersonaName,
		"greet_enabled":          c.GreetEnabled,
		"auto_start":             c.AutoStart,
		"discord_mirror_enabled": c.DiscordMirrorChannelID != "",
	})
}

// HandleStatus returns the monitor status plus the number of live stream clients.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := struct {
		Monitor       chat.Status `json:"monitor"`
		StreamClients int         `json:"stream_clients"`
	}{Monitor: h.Monitor.Status()}
	if h.Broadcaster != nil {
		out.StreamClients = h.Broadcaster.Clients()
	}
	writeJSON(w, http.StatusOK, out)
}
