package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatpilot/config"
	"github.com/onnwee/chatpilot/telemetry"
)

const tracerName = "chat-monitor"

// Status is a point-in-time view of the monitor.
type Status struct {
	Running           bool          `json:"is_running"`
	Handle            string        `json:"chat_handle,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	ProcessedCount    int64         `json:"processed_count"`
	CooldownRemaining time.Duration `json:"-"`
	CooldownSeconds   float64       `json:"cooldown_remaining_seconds"`
	SubscriberCount   int           `json:"subscriber_count"`
	PendingSends      int           `json:"pending_sends"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	LastResponseAt    *time.Time    `json:"last_response_at,omitempty"`
}

// session is the state of one monitoring run.
type session struct {
	id        string
	handle    string
	startedAt time.Time
	processed atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	launched bool

	// tick goroutine only
	cursor         string
	seen           *dedupSet
	lastIdleSendAt time.Time
	lastSweepAt    time.Time
}

// Monitor watches one live chat at a time. Start/Stop/Status/Send are safe to call
// from any goroutine. Stop must not be called from inside a Subscriber.
type Monitor struct {
	gw        *gateway
	gate      *Gate
	sender    *Sender
	subs      Registry
	responder Responder

	pollInterval     time.Duration
	responderTimeout time.Duration
	maxReplyLength   int
	dedupCapacity    int
	requeueInterval  time.Duration

	idleEnabled  bool
	idleInterval time.Duration
	idleMessages []string

	now    func() time.Time
	pickN  func(n int) int
	logger *slog.Logger

	ctl    sync.Mutex // serializes Start and Stop
	mu     sync.Mutex // guards runCtx and sess
	runCtx context.Context
	sess   *session
}

// New builds a monitor for src. resp may be nil, in which case no automated replies are sent.
func New(cfg *config.Config, src Source, resp Responder) *Monitor {
	gw := newGateway(src, cfg.Workers, cfg.CallTimeout)
	m := &Monitor{
		gw:   gw,
		gate: NewGate(cfg.ReplyCooldown, cfg.MutedAuthors, cfg.BannedTerms, cfg.TriggerTerms),
		sender: newSender(gw, SenderOptions{
			Cooldown: cfg.SendCooldown,
			Policy: RetryPolicy{
				MaxRetries: cfg.MaxRetries,
				Delay:      cfg.RetryDelay,
				Multiplier: cfg.RetryMultiplier,
				MaxDelay:   cfg.RetryMaxDelay,
			},
			QueueFailed:     cfg.QueueFailedSends,
			PendingCapacity: cfg.PendingCapacity,
			MaxAttempts:     cfg.PendingMaxAttempts,
		}),
		responder:        resp,
		pollInterval:     cfg.PollInterval,
		responderTimeout: cfg.ResponderTimeout,
		maxReplyLength:   cfg.MaxReplyLength,
		dedupCapacity:    cfg.DedupCapacity,
		requeueInterval:  cfg.RequeueInterval,
		idleEnabled:      cfg.IdleEnabled,
		idleInterval:     cfg.IdleInterval,
		idleMessages:     append([]string(nil), cfg.IdleMessages...),
		now:              time.Now,
		pickN:            rand.IntN,
		logger:           slog.Default().With(slog.String("component", "chat_monitor")),
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 10 * time.Second
	}
	if m.responderTimeout <= 0 {
		m.responderTimeout = 10 * time.Second
	}
	return m
}

// Gate exposes the response gate, mostly for status endpoints.
func (m *Monitor) Gate() *Gate { return m.gate }

// Sender exposes the outbound sender.
func (m *Monitor) Sender() *Sender { return m.sender }

// Subscribe registers a subscriber for every new inbound message.
func (m *Monitor) Subscribe(s Subscriber) Subscription { return m.subs.Subscribe(s) }

// Unsubscribe removes a subscriber.
func (m *Monitor) Unsubscribe(id Subscription) bool { return m.subs.Unsubscribe(id) }

// Run binds the execution context and blocks until ctx is done, then stops any active
// session. A session started before Run is launched here.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return errors.New("chat monitor: already running")
	}
	m.runCtx = ctx
	if s := m.sess; s != nil && !s.launched {
		m.launchLocked(s)
	}
	m.mu.Unlock()

	<-ctx.Done()
	m.Stop()

	m.mu.Lock()
	m.runCtx = nil
	m.mu.Unlock()
	return nil
}

// Start begins monitoring handle. A running session is stopped first.
func (m *Monitor) Start(handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return ErrEmptyHandle
	}
	m.ctl.Lock()
	defer m.ctl.Unlock()
	m.stopLocked()

	now := m.now()
	s := &session{
		id:          uuid.NewString(),
		handle:      handle,
		startedAt:   now,
		done:        make(chan struct{}),
		seen:        newDedupSet(m.dedupCapacity),
		lastSweepAt: now,
	}
	m.gate.reset()
	m.sender.resetActivity(now)

	m.mu.Lock()
	m.sess = s
	m.sender.setHandle(handle)
	if m.runCtx != nil {
		m.launchLocked(s)
	} else {
		m.logger.Warn("chat monitor: start requested before Run, session will begin when Run is called",
			slog.String("handle", handle))
	}
	m.mu.Unlock()

	telemetry.SetRunning(true)
	m.logger.Info("chat monitor: started", slog.String("handle", handle), slog.String("session", s.id))
	return nil
}

// Stop ends the active session and waits for its tick loop to exit. Idempotent.
func (m *Monitor) Stop() {
	m.ctl.Lock()
	defer m.ctl.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.launched {
		<-s.done
	}
	m.mu.Lock()
	if m.sess == nil {
		m.sender.setHandle("")
	}
	m.mu.Unlock()
	telemetry.SetRunning(false)
	m.logger.Info("chat monitor: stopped",
		slog.String("handle", s.handle),
		slog.Int64("processed", s.processed.Load()))
}

// launchLocked starts the tick goroutine. Caller holds m.mu.
func (m *Monitor) launchLocked(s *session) {
	ctx, cancel := context.WithCancel(m.runCtx)
	s.cancel = cancel
	s.launched = true
	go m.loop(withHandle(telemetry.WithCorrelation(ctx, s.id), s.handle), s)
}

// release clears the session after the loop ends on its own.
func (m *Monitor) release(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s {
		return
	}
	m.sess = nil
	m.sender.setHandle("")
	telemetry.SetRunning(false)
}

// Status returns a snapshot; safe while a tick is running.
func (m *Monitor) Status() Status {
	now := m.now()
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()

	st := Status{
		SubscriberCount: m.subs.Len(),
		PendingSends:    m.sender.PendingLen(),
	}
	rem := m.gate.CooldownRemaining(now)
	st.CooldownRemaining = rem
	st.CooldownSeconds = rem.Seconds()
	if last := m.gate.LastResponseAt(); !last.IsZero() {
		st.LastResponseAt = &last
	}
	if s != nil {
		st.Running = true
		st.Handle = s.handle
		st.SessionID = s.id
		st.ProcessedCount = s.processed.Load()
		started := s.startedAt
		st.StartedAt = &started
	}
	return st
}

// Send delivers an operator-supplied message to the active chat with retry.
func (m *Monitor) Send(ctx context.Context, text string) bool {
	return m.sender.SendWithRetry(ctx, KindExternal, text)
}

func (m *Monitor) loop(ctx context.Context, s *session) {
	defer close(s.done)
	defer m.release(s)
	log := telemetry.LoggerWithCorr(ctx)

	for {
		wait, err := m.safeTick(ctx, s)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrSessionEnded) {
			telemetry.Inc(telemetry.SessionsEnded)
			log.Warn("chat monitor: live chat ended, stopping", slog.String("handle", s.handle), slog.Any("err", err))
			return
		}
		if err != nil {
			log.Error("chat monitor: tick failed", slog.Any("err", err))
		}
		if sleepCtx(ctx, wait) != nil {
			return
		}
	}
}

func (m *Monitor) safeTick(ctx context.Context, s *session) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			wait = m.pollInterval
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return m.tick(ctx, s)
}

// tick runs one fetch, process, idle, sweep cycle and returns the wait before the next.
func (m *Monitor) tick(ctx context.Context, s *session) (time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "monitor.tick", telemetry.ChatHandleAttr(s.handle))
	defer span.End()
	start := time.Now()
	defer func() {
		if telemetry.TickDuration != nil {
			telemetry.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	wait := m.pollInterval
	batch, err := m.gw.fetch(ctx, s.handle, s.cursor)
	if err != nil {
		if errors.Is(err, ErrSessionEnded) || ctx.Err() != nil {
			telemetry.RecordError(span, err)
			return wait, err
		}
		// transient: same cursor next time
		telemetry.LoggerWithCorr(ctx).Warn("chat monitor: fetch failed", slog.Any("err", err))
		telemetry.RecordError(span, err)
		return wait, nil
	}
	if batch != nil {
		if batch.NextCursor != "" {
			s.cursor = batch.NextCursor
		}
		if batch.PollAfter > wait {
			wait = batch.PollAfter
		}
		for _, msg := range batch.Messages {
			if ctx.Err() != nil {
				return wait, ctx.Err()
			}
			m.process(ctx, s, msg)
		}
	}
	m.runIdle(ctx, s)
	m.runSweep(ctx, s)
	telemetry.SetSpanSuccess(span)
	return wait, nil
}

func (m *Monitor) process(ctx context.Context, s *session, msg Message) {
	telemetry.Inc(telemetry.MessagesFetched)
	key := msg.ID
	if key == "" {
		key = msg.Author + "\x00" + msg.PublishedAt.String() + "\x00" + msg.Text
	}
	if s.seen.seen(key) {
		telemetry.Inc(telemetry.MessagesDuplicate)
		return
	}
	s.seen.markSeen(key)
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	s.processed.Add(1)
	m.sender.noteActivity(m.now())

	m.subs.notifyAll(ctx, msg)

	d := m.gate.Evaluate(msg, m.responder != nil, m.now())
	telemetry.IncGate(d.Reason)
	if !d.Permit {
		return
	}
	reply := m.respond(ctx, msg)
	if reply == "" {
		return
	}
	if m.sender.SendWithRetry(ctx, KindReply, reply) {
		m.gate.MarkResponded(m.now())
		telemetry.LoggerWithCorr(ctx).Info("chat monitor: replied",
			slog.String("author", msg.Author),
			slog.String("message_id", msg.ID))
	}
}

// respond calls the responder under responderTimeout. The call runs on its own goroutine
// so a responder that ignores its context still cannot hold up the tick.
func (m *Monitor) respond(ctx context.Context, msg Message) string {
	rctx, cancel := context.WithTimeout(ctx, m.responderTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("responder panic: %v", r)}
			}
		}()
		text, err := m.responder.TryRespond(rctx, msg)
		ch <- result{text, err}
	}()

	log := telemetry.LoggerWithCorr(ctx)
	select {
	case r := <-ch:
		if telemetry.ResponderDuration != nil {
			telemetry.ResponderDuration.Observe(time.Since(start).Seconds())
		}
		if r.err != nil && ctx.Err() != nil {
			log.Debug("chat monitor: responder call cancelled", slog.Any("err", r.err))
			return ""
		}
		if r.err != nil {
			telemetry.Inc(telemetry.ResponderFailures)
			log.Warn("chat monitor: responder failed", slog.Any("err", r.err))
			return ""
		}
		return truncateReply(r.text, m.maxReplyLength)
	case <-rctx.Done():
		if ctx.Err() != nil {
			log.Debug("chat monitor: responder call cancelled", slog.Any("err", ctx.Err()))
			return ""
		}
		telemetry.Inc(telemetry.ResponderFailures)
		log.Warn("chat monitor: responder timed out", slog.Duration("timeout", m.responderTimeout))
		return ""
	}
}

func (m *Monitor) runIdle(ctx context.Context, s *session) {
	if !m.idleEnabled || len(m.idleMessages) == 0 || m.idleInterval <= 0 {
		return
	}
	now := m.now()
	if now.Sub(m.sender.LastActivity()) < m.idleInterval {
		return
	}
	if !s.lastIdleSendAt.IsZero() && now.Sub(s.lastIdleSendAt) < m.idleInterval {
		return
	}
	text := m.idleMessages[m.pickN(len(m.idleMessages))]
	if m.sender.SendWithRetry(ctx, KindIdle, text) {
		s.lastIdleSendAt = m.now()
	}
}

func (m *Monitor) runSweep(ctx context.Context, s *session) {
	if m.requeueInterval <= 0 || m.sender.PendingLen() == 0 {
		return
	}
	now := m.now()
	if now.Sub(s.lastSweepAt) < m.requeueInterval {
		return
	}
	s.lastSweepAt = now
	if sent, dropped := m.sender.sweep(ctx); sent+dropped > 0 {
		telemetry.LoggerWithCorr(ctx).Info("chat monitor: pending sweep",
			slog.Int("sent", sent), slog.Int("dropped", dropped))
	}
}

// truncateReply trims text and cuts it to limit runes, ending in "..." when cut.
func truncateReply(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return strings.TrimSpace(string(r[:limit-3])) + "..."
}
