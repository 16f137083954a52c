package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chatpilot/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeSource returns queued batches in order, then empty batches.
type fakeSource struct {
	mu       sync.Mutex
	batches  []*Batch
	fetchErr error
	sendErr  error
	failN    int // fail this many sends with errFlaky before using sendErr
	cursors  []string
	handles  []string
	sent     []string
	fetches  int
}

func (f *fakeSource) FetchBatch(_ context.Context, handle, cursor string) (*Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.cursors = append(f.cursors, cursor)
	f.handles = append(f.handles, handle)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeSource) SendRaw(_ context.Context, handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	if f.failN > 0 {
		f.failN--
		return errFlaky
	}
	return f.sendErr
}

func (f *fakeSource) queue(msgs []Message, cursor string) {
	f.mu.Lock()
	f.batches = append(f.batches, &Batch{Messages: msgs, NextCursor: cursor})
	f.mu.Unlock()
}

func (f *fakeSource) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeSource) sends() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) lastCursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cursors) == 0 {
		return ""
	}
	return f.cursors[len(f.cursors)-1]
}

// fakeResponder replies with reply to every call.
type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []Message
}

func (r *fakeResponder) TryRespond(_ context.Context, msg Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg)
	return r.reply, r.err
}

func (r *fakeResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type responderFunc func(ctx context.Context, msg Message) (string, error)

func (f responderFunc) TryRespond(ctx context.Context, msg Message) (string, error) { return f(ctx, msg) }

// recordingSub collects notifications.
type recordingSub struct {
	mu   sync.Mutex
	msgs []Message
}

func (s *recordingSub) Notify(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

var errFlaky = errors.New("connection reset by peer")

func baseConfig() *config.Config {
	return &config.Config{
		PollInterval:       10 * time.Millisecond,
		TriggerTerms:       []string{"rukiya"},
		MaxRetries:         2,
		RetryDelay:         time.Second,
		PendingCapacity:    50,
		PendingMaxAttempts: 5,
		ResponderTimeout:   time.Second,
		MaxReplyLength:     200,
		DedupCapacity:      100,
		Workers:            2,
		CallTimeout:        time.Second,
	}
}

// newTestMonitor builds a monitor on a fake clock whose sender sleeps are recorded, not slept.
func newTestMonitor(t *testing.T, cfg *config.Config, src Source, resp Responder) (*Monitor, *fakeClock, *[]time.Duration) {
	t.Helper()
	clock := newFakeClock()
	var sleeps []time.Duration
	m := New(cfg, src, resp)
	m.now = clock.Now
	m.pickN = func(int) int { return 0 }
	m.sender.now = clock.Now
	m.sender.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return m, clock, &sleeps
}

// startSession starts handle without launching a loop, so tests drive tick directly.
func startSession(t *testing.T, m *Monitor, handle string) *session {
	t.Helper()
	if err := m.Start(handle); err != nil {
		t.Fatalf("Start(%q): %v", handle, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		t.Fatal("no session after Start")
	}
	return m.sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
