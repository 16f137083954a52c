package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatpilot/telemetry"
	"github.com/onnwee/chatpilot/twitchapi"
	"github.com/onnwee/chatpilot/youtubeapi"
)

const oauthStateTTL = 10 * time.Minute

// newOAuthState generates and remembers a random state value.
func (h *Handlers) newOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(oauthStateTTL))
	return st, nil
}

// callbackCode validates the state on an OAuth callback and returns the code.
func (h *Handlers) callbackCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return "", false
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return "", false
	}
	if h.Tokens == nil {
		http.Error(w, "no token store configured", http.StatusServiceUnavailable)
		return "", false
	}
	return code, true
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow for the bot account.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	oc, err := twitchapi.OAuthConfig(h.Config.TwitchClientID, h.Config.TwitchClientSecret, h.Config.TwitchRedirectURI, h.Config.TwitchScopes)
	if err != nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, err := h.newOAuthState()
	if err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, oc.AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the bot token.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := h.callbackCode(w, r)
	if !ok {
		return
	}
	oc, err := twitchapi.OAuthConfig(h.Config.TwitchClientID, h.Config.TwitchClientSecret, h.Config.TwitchRedirectURI, h.Config.TwitchScopes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("twitch oauth exchange", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	scope := twitchapi.Scope(tok)
	if err := h.Tokens.Save(ctx, "twitch", tok, scope); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("twitch token stored", slog.String("scope", scope))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scope": scope, "expiry": tok.Expiry})
}

// HandleYouTubeOAuthStart initiates the YouTube OAuth flow.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.Config.YTClientID == "" || h.Config.YTRedirectURI == "" {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	st, err := h.newOAuthState()
	if err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, youtubeapi.New(h.Config, h.Tokens).AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback exchanges the code; the service stores the token.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := h.callbackCode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	tok, err := youtubeapi.New(h.Config, h.Tokens).Exchange(ctx, code)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("youtube oauth exchange", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"refresh_token_present": tok.RefreshToken != "",
	})
}
