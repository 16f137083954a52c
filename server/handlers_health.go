package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/chatpilot/config"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.DB == nil {
				return nil
			}
			return h.DB.PingContext(r.Context())
		}},
		{"credentials", func() error {
			cfg := h.Config
			if cfg.Platform == config.PlatformTwitch && cfg.TwitchOAuthToken != "" {
				return nil
			}
			if h.Tokens == nil {
				return fmt.Errorf("no token store configured")
			}
			tok, _, err := h.Tokens.Load(r.Context(), cfg.Platform)
			if err != nil {
				return err
			}
			if tok == nil || tok.AccessToken == "" {
				return fmt.Errorf("missing OAuth token for %s", cfg.Platform)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
