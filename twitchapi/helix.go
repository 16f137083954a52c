// Package twitchapi contains the Twitch pieces of the chat monitor: an IRC chat source,
// a Helix stream resolver for auto start, and OAuth helpers for the bot account.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatpilot/chat"
)

const defaultHelixURL = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls the monitor needs.
type HelixClient struct {
	Tokens     oauth2.TokenSource
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client
}

// Stream is a live stream returned by Helix.
type Stream struct {
	ID        string    `json:"id"`
	UserLogin string    `json:"user_login"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return defaultHelixURL
}

// GetStreams returns the live streams for login; empty when offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	if hc.Tokens == nil {
		return nil, fmt.Errorf("helix: no token source")
	}
	tok, err := hc.Tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("helix app token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/streams", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("helix streams: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// StreamResolver reports Channel as the chat handle while it is live.
type StreamResolver struct {
	Helix   *HelixClient
	Channel string
}

// ResolveLive implements chat.LiveResolver.
func (r *StreamResolver) ResolveLive(ctx context.Context) (string, error) {
	channel := normalizeChannel(r.Channel)
	streams, err := r.Helix.GetStreams(ctx, channel)
	if err != nil {
		return "", err
	}
	if len(streams) == 0 {
		return "", chat.ErrNotLive
	}
	return channel, nil
}

func normalizeChannel(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "#"))
}
