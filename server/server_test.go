package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/config"
	"github.com/onnwee/chatpilot/db"
	"github.com/onnwee/chatpilot/testutil"
)

func newTestMux(t *testing.T, deps Deps) (http.Handler, *fakeMonitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h, mon := newTestHandlers(t, deps)
	h.ctx = ctx
	return NewMux(ctx, h), mon
}

func TestNewMuxRoutes(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	handler, _ := newTestMux(t, Deps{Broadcaster: chat.NewBroadcaster(1)})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/status", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/admin/monitor/pending", http.StatusOK},
		{http.MethodPost, "/admin/monitor/stop", http.StatusOK},
		{http.MethodGet, "/admin/monitor/stop", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if rr.Header().Get("X-Correlation-ID") == "" {
				t.Error("missing X-Correlation-ID")
			}
		})
	}
}

func TestNewMuxKeepsCorrelationID(t *testing.T) {
	handler, _ := newTestMux(t, Deps{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q", got)
	}
}

func TestNewMuxProtectsAdmin(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "2")
	handler, mon := newTestMux(t, Deps{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/monitor/start", strings.NewReader(`{"handle":"abc"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated start = %d", rr.Code)
	}
	if mon.Status().Running {
		t.Fatal("monitor started without auth")
	}

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/monitor/start", strings.NewReader(`{"handle":"abc"}`))
		req.Header.Set("X-Admin-Token", "s3cret")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("authorized starts = %v, want %v", codes, want)
		}
	}
	if mon.Status().Handle != "abc" {
		t.Errorf("handle = %q", mon.Status().Handle)
	}
}

func TestChatStream(t *testing.T) {
	b := chat.NewBroadcaster(4)
	handler, _ := newTestMux(t, Deps{Broadcaster: b})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if b.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", b.Clients())
	}

	want := chat.Message{ID: "m1", Author: "alice", Text: "hi rukiya"}
	if err := b.Notify(ctx, want); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var got chat.Message
		if err := json.Unmarshal([]byte(payload), &got); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if got.ID != want.ID || got.Author != want.Author || got.Text != want.Text {
			t.Fatalf("event = %+v, want %+v", got, want)
		}
		break
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream client was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatStreamWithoutBroadcaster(t *testing.T) {
	handler, _ := newTestMux(t, Deps{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestChatRecentFromDB(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		_, err := db.InsertChatMessage(ctx, database, db.ChatRow{
			Platform:    config.PlatformYouTube,
			Handle:      "live-1",
			MessageID:   "m" + text,
			Author:      "alice",
			Text:        text,
			PublishedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	h, _ := newTestHandlers(t, Deps{DB: database, Monitor: &fakeMonitor{running: true, handle: "live-1"}})

	rr := httptest.NewRecorder()
	h.HandleChatRecent(rr, httptest.NewRequest(http.MethodGet, "/chat/recent?limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	var rows []db.ChatRow
	decode(t, rr, &rows)
	if len(rows) != 2 || rows[0].Text != "third" || rows[1].Text != "second" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, http.NotFoundHandler(), "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
