package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockServer is an httptest server dispatching on exact URL path. It records every
// request so tests can assert on headers, query and body.
type MockServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	reqs map[string][]*http.Request
}

func newMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{Handlers: make(map[string]http.HandlerFunc), reqs: make(map[string][]*http.Request)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		clone := r.Clone(r.Context())
		clone.Body = io.NopCloser(bytes.NewReader(body))

		m.mu.Lock()
		m.reqs[r.URL.Path] = append(m.reqs[r.URL.Path], clone)
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers h for path.
func (m *MockServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// LastRequest returns the most recent request to path, or nil.
func (m *MockServer) LastRequest(path string) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.reqs[path]
	if len(rs) == 0 {
		return nil
	}
	return rs[len(rs)-1]
}

// Count returns how many requests hit path.
func (m *MockServer) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs[path])
}

// JSON registers a handler for path that writes v with status.
func (m *MockServer) JSON(path string, status int, v any) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
	})
}

// MockTwitchServer mocks Twitch Helix and the id.twitch.tv token endpoint.
type MockTwitchServer struct{ *MockServer }

// NewMockTwitchServer creates a new mock Twitch API server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	return &MockTwitchServer{newMockServer(t)}
}

// MockStreamsResponse adds a handler for the /helix/streams endpoint.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.JSON("/helix/streams", http.StatusOK, map[string]interface{}{"data": streams})
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.JSON("/oauth2/token", http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

// MockYouTubeServer mocks the YouTube Data API v3 endpoints used by the live chat source.
// Point the client at it with option.WithEndpoint(srv.URL + "/").
type MockYouTubeServer struct{ *MockServer }

// YouTube API paths served by MockYouTubeServer.
const (
	YTLiveChatMessagesPath = "/youtube/v3/liveChat/messages"
	YTVideosPath           = "/youtube/v3/videos"
	YTLiveBroadcastsPath   = "/youtube/v3/liveBroadcasts"
)

// NewMockYouTubeServer creates a new mock YouTube API server.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	return &MockYouTubeServer{newMockServer(t)}
}

// YTChatItem is one message in a mocked liveChatMessages.list response.
type YTChatItem struct {
	ID, Author, Text, PublishedAt string
}

// MockLiveChatList answers liveChatMessages.list with items.
func (m *MockYouTubeServer) MockLiveChatList(items []YTChatItem, nextPageToken string, pollMillis int, offlineAt string) {
	out := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"id": it.ID,
			"snippet": map[string]interface{}{
				"type":           "textMessageEvent",
				"displayMessage": it.Text,
				"publishedAt":    it.PublishedAt,
			},
			"authorDetails": map[string]interface{}{"displayName": it.Author},
		})
	}
	body := map[string]interface{}{
		"kind":                  "youtube#liveChatMessageListResponse",
		"items":                 out,
		"nextPageToken":         nextPageToken,
		"pollingIntervalMillis": pollMillis,
	}
	if offlineAt != "" {
		body["offlineAt"] = offlineAt
	}
	m.JSON(YTLiveChatMessagesPath, http.StatusOK, body)
}

// MockAPIError answers path with a googleapi style error.
func (m *MockYouTubeServer) MockAPIError(path string, status int, reason string) {
	m.JSON(path, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason, "domain": "youtube.liveChat"}},
		},
	})
}
