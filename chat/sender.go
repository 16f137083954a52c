package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chatpilot/telemetry"
)

var (
	errNoHandle  = errors.New("no active chat handle")
	errEmptyText = errors.New("empty message")
)

func isRejected(err error) bool { return errors.Is(err, errNoHandle) || errors.Is(err, errEmptyText) }

// isTerminal reports errors after which no further attempt can succeed: the chat is
// gone or the caller cancelled. Other fatal errors are still retried up to the policy.
func isTerminal(err error) bool {
	return errors.Is(err, ErrSessionEnded) || errors.Is(err, context.Canceled)
}

// RetryPolicy is shared by immediate retries and the pending queue sweep.
type RetryPolicy struct {
	MaxRetries int           // attempts after the first
	Delay      time.Duration // wait before the first retry
	Multiplier float64       // growth per further retry; <=1 keeps the delay fixed
	MaxDelay   time.Duration // 0 = uncapped
}

// Attempts returns the total number of immediate attempts.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the wait before retry n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n <= 0 || p.Delay <= 0 {
		return 0
	}
	d := float64(p.Delay)
	if p.Multiplier > 1 {
		for i := 1; i < n; i++ {
			d *= p.Multiplier
			if p.MaxDelay > 0 && time.Duration(d) >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// PendingSend is an outbound message that exhausted its immediate retries.
// Attempts counts sweep attempts only.
type PendingSend struct {
	Text           string    `json:"text"`
	Kind           SendKind  `json:"kind"`
	FirstAttemptAt time.Time `json:"first_attempt_at"`
	Attempts       int       `json:"attempts"`
	NextAttemptAt  time.Time `json:"next_attempt_at"`
}

// Sender owns every outbound send. Sends are serialized: at most one is in flight
// and the post-send cooldown holds the slot.
type Sender struct {
	gw       *gateway
	cooldown time.Duration
	policy   RetryPolicy

	queueEnabled bool
	capacity     int
	maxAttempts  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	sendMu sync.Mutex

	mu      sync.Mutex // guards handle and pending
	handle  string
	pending []PendingSend

	lastActivity atomic.Int64 // unix nanos
}

// SenderOptions configures NewSender.
type SenderOptions struct {
	Cooldown        time.Duration
	Policy          RetryPolicy
	QueueFailed     bool
	PendingCapacity int
	MaxAttempts     int
}

func newSender(gw *gateway, opts SenderOptions) *Sender {
	if opts.PendingCapacity <= 0 {
		opts.PendingCapacity = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Sender{
		gw:           gw,
		cooldown:     opts.Cooldown,
		policy:       opts.Policy,
		queueEnabled: opts.QueueFailed,
		capacity:     opts.PendingCapacity,
		maxAttempts:  opts.MaxAttempts,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// setHandle switches the target chat. Pending sends belong to the old chat and are discarded.
func (s *Sender) setHandle(h string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == s.handle {
		return
	}
	if n := len(s.pending); n > 0 {
		slog.Info("chat sender: discarding pending sends for previous chat", slog.Int("count", n))
	}
	s.handle = h
	s.pending = nil
	telemetry.SetPendingSends(0)
}

func (s *Sender) currentHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Pending returns a copy of the pending queue.
func (s *Sender) Pending() []PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PendingSend(nil), s.pending...)
}

// PendingLen returns the pending queue length.
func (s *Sender) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// LastActivity is the later of the last inbound message and the last delivered send.
func (s *Sender) LastActivity() time.Time {
	if v := s.lastActivity.Load(); v != 0 {
		return time.Unix(0, v)
	}
	return time.Time{}
}

func (s *Sender) noteActivity(t time.Time) {
	n := t.UnixNano()
	for {
		cur := s.lastActivity.Load()
		if cur >= n || s.lastActivity.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (s *Sender) resetActivity(t time.Time) { s.lastActivity.Store(t.UnixNano()) }

// Send makes a single attempt. Returns false for empty text, no active chat, or a failed call.
func (s *Sender) Send(ctx context.Context, kind SendKind, text string) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.attempt(ctx, kind, text) == nil
}

// SendWithRetry uses the sender's policy.
func (s *Sender) SendWithRetry(ctx context.Context, kind SendKind, text string) bool {
	return s.SendWithPolicy(ctx, kind, text, s.policy)
}

// SendWithPolicy attempts up to policy.Attempts() times, waiting policy.Backoff between
// attempts. A fatal error stops early. When every attempt fails and queueing is on, reply
// and external sends are parked in the pending queue; idle filler is not.
func (s *Sender) SendWithPolicy(ctx context.Context, kind SendKind, text string, policy RetryPolicy) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	first := s.now()
	var err error
	for i := 0; i < policy.Attempts(); i++ {
		if i > 0 {
			if serr := s.sleep(ctx, policy.Backoff(i)); serr != nil {
				return false
			}
		}
		if err = s.attempt(ctx, kind, text); err == nil {
			return true
		}
		if isRejected(err) || isTerminal(err) {
			break
		}
	}
	telemetry.IncSend(string(kind), "exhausted")
	slog.Warn("chat sender: send failed after retries",
		slog.String("kind", string(kind)),
		slog.String("class", ClassifySendError(err).String()),
		slog.Any("err", err))

	if s.queueEnabled && kind != KindIdle && ctx.Err() == nil && IsRetryableError(err) && !isRejected(err) {
		s.enqueue(PendingSend{
			Text:           strings.TrimSpace(text),
			Kind:           kind,
			FirstAttemptAt: first,
			NextAttemptAt:  s.now().Add(policy.Backoff(1)),
		})
	}
	return false
}

// attempt performs one send. Caller holds sendMu.
func (s *Sender) attempt(ctx context.Context, kind SendKind, text string) error {
	text = strings.TrimSpace(text)
	handle := s.currentHandle()
	if text == "" || handle == "" {
		telemetry.IncSend(string(kind), "rejected")
		if handle == "" {
			return errNoHandle
		}
		return errEmptyText
	}
	telemetry.Inc(telemetry.SendAttempts)
	if err := s.gw.send(ctx, handle, text); err != nil {
		telemetry.IncSend(string(kind), "error")
		slog.Debug("chat sender: send attempt failed", slog.String("kind", string(kind)), slog.Any("err", err))
		return err
	}
	telemetry.IncSend(string(kind), "ok")
	s.noteActivity(s.now())
	slog.Info("chat sender: message sent", slog.String("kind", string(kind)), slog.Int("length", len(text)))
	if s.cooldown > 0 {
		_ = s.sleep(ctx, s.cooldown)
	}
	return nil
}

func (s *Sender) enqueue(p PendingSend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.capacity {
		dropped := s.pending[0]
		s.pending = s.pending[1:]
		telemetry.Inc(telemetry.PendingDropped)
		slog.Warn("chat sender: pending queue full, dropping oldest", slog.String("kind", string(dropped.Kind)))
	}
	s.pending = append(s.pending, p)
	telemetry.SetPendingSends(len(s.pending))
}

// sweep makes one attempt for every due pending send. Entries that reach maxAttempts
// are dropped.
func (s *Sender) sweep(ctx context.Context) (sent, dropped int) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	handle := s.handle
	queue := s.pending
	s.pending = nil
	s.mu.Unlock()

	var keep []PendingSend
	for i, p := range queue {
		if ctx.Err() != nil {
			keep = append(keep, queue[i:]...)
			break
		}
		if s.now().Before(p.NextAttemptAt) {
			keep = append(keep, p)
			continue
		}
		err := s.attempt(ctx, p.Kind, p.Text)
		if err == nil {
			sent++
			continue
		}
		p.Attempts++
		if p.Attempts >= s.maxAttempts || !IsRetryableError(err) || isRejected(err) {
			dropped++
			telemetry.Inc(telemetry.PendingDropped)
			slog.Warn("chat sender: dropping pending send",
				slog.String("kind", string(p.Kind)),
				slog.Int("attempts", p.Attempts),
				slog.Any("err", err))
			continue
		}
		p.NextAttemptAt = s.now().Add(s.policy.Backoff(p.Attempts + 1))
		keep = append(keep, p)
	}

	s.mu.Lock()
	if s.handle == handle {
		s.pending = append(keep, s.pending...)
		if over := len(s.pending) - s.capacity; over > 0 {
			s.pending = s.pending[over:]
		}
	}
	telemetry.SetPendingSends(len(s.pending))
	s.mu.Unlock()
	return sent, dropped
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
