// Package greeter welcomes first-time chatters. It is a chat.Subscriber: every inbound
// message is checked and, for an author not greeted within the session timeout, one
// welcome is sent through the monitor. With a Composer the welcome is generated by the
// responder first and falls back to tiered templates.
package greeter

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/compose"
	"github.com/onnwee/chatpilot/telemetry"
)

// MaxTracked bounds the greeted-author table.
const MaxTracked = 5000

// Sender delivers a message to the active chat.
type Sender interface {
	Send(ctx context.Context, text string) bool
}

// MuteChecker reports authors that must never be greeted (bots, the persona itself).
type MuteChecker interface {
	IsMuted(author string) bool
}

// Options configures a Greeter.
type Options struct {
	Templates      []string // "{user}" is replaced with the author
	MinInterval    time.Duration
	SessionTimeout time.Duration

	// Composer, when set, replaces Templates.
	Composer *compose.Composer
}

// Premium and Standard are the richer welcome tiers used with a Composer; the
// configured Templates serve as the simple tier.
var (
	Premium = []string{
		"Arre {user}, aap aa gaye! Stream ab complete ho gayi 🎉",
		"Welcome {user}, aapka intezaar tha! Enjoy the vibes ✨",
		"{user} ji, swagat hai! Baith jao aaram se 🪑",
		"Dekho kaun aaya, {user}! Finally stream interesting ho gayi 😎",
		"Ayy {user}, perfect timing! Ab maza aayega 🔥",
	}
	Standard = []string{
		"Arre {user}, finally aa gaye tum! 👋",
		"Swagat hai {user}, chat ab zinda lag rahi hai 😏",
		"{user} aa gaye, ab maja aayega! 🔥",
		"Welcome {user}, bas tumhari hi kami thi 😎",
		"Oho {user}, entry maarte hi dhamaka! 💥",
	}
)

// Prompt asks the responder for a welcome.
func Prompt(user string) string {
	return "Generate a short, friendly and funny Hinglish welcome message for a live chat user named '" +
		user + "'. Use casual Indian slang and emojis, keep it under 12 words, no offensive language."
}

// Greeter sends welcome messages. Safe for concurrent use.
type Greeter struct {
	send  Sender
	muted MuteChecker
	opts  Options

	now   func() time.Time
	pickN func(n int) int

	mu        sync.Mutex
	greeted   map[string]time.Time
	lastGreet time.Time
}

// New returns a greeter. muted may be nil.
func New(send Sender, muted MuteChecker, opts Options) *Greeter {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 2 * time.Hour
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	return &Greeter{
		send:    send,
		muted:   muted,
		opts:    opts,
		now:     time.Now,
		pickN:   rand.IntN,
		greeted: make(map[string]time.Time),
	}
}

// Notify implements chat.Subscriber.
func (g *Greeter) Notify(ctx context.Context, msg chat.Message) error {
	author := strings.TrimSpace(msg.Author)
	if author == "" || (len(g.opts.Templates) == 0 && g.opts.Composer == nil) {
		return nil
	}
	if g.muted != nil && g.muted.IsMuted(author) {
		return nil
	}
	key := strings.ToLower(author)

	g.mu.Lock()
	now := g.now()
	if at, ok := g.greeted[key]; ok && now.Sub(at) < g.opts.SessionTimeout {
		g.mu.Unlock()
		return nil
	}
	if !g.lastGreet.IsZero() && now.Sub(g.lastGreet) < g.opts.MinInterval {
		g.mu.Unlock()
		slog.Debug("greeter: rate limited", slog.String("author", author))
		return nil
	}
	var text string
	if g.opts.Composer == nil {
		text = strings.ReplaceAll(g.opts.Templates[g.pickN(len(g.opts.Templates))], "{user}", author)
	}
	g.mu.Unlock()

	if !g.deliver(ctx, author, text) {
		// not recorded, so the author is tried again on their next message
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now = g.now()
	g.greeted[key] = now
	g.lastGreet = now
	g.pruneLocked(now)
	telemetry.Inc(telemetry.GreetingsSent)
	telemetry.LoggerWithCorr(ctx).Info("greeter: welcomed", slog.String("author", author))
	return nil
}

// deliver sends text, or with a Composer a composed welcome and then one simple-tier
// welcome if that send fails.
func (g *Greeter) deliver(ctx context.Context, author, text string) bool {
	c := g.opts.Composer
	if c == nil {
		return g.send.Send(ctx, text)
	}
	req := compose.Request{User: author, Prompt: Prompt(author)}
	text, src := c.Compose(ctx, req)
	if text != "" && g.send.Send(ctx, text) {
		return true
	}
	if src == compose.SourceSimple || ctx.Err() != nil {
		return false
	}
	text, _ = c.Emergency(req)
	return text != "" && g.send.Send(ctx, text)
}

// Greeted returns the number of authors currently remembered.
func (g *Greeter) Greeted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.greeted)
}

// Reset forgets every greeted author, e.g. when a new stream starts.
func (g *Greeter) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.greeted = make(map[string]time.Time)
	g.lastGreet = time.Time{}
}

// pruneLocked drops expired entries, then the oldest ones while over MaxTracked.
func (g *Greeter) pruneLocked(now time.Time) {
	if len(g.greeted) <= MaxTracked {
		return
	}
	for k, at := range g.greeted {
		if now.Sub(at) >= g.opts.SessionTimeout {
			delete(g.greeted, k)
		}
	}
	for len(g.greeted) > MaxTracked {
		var oldestKey string
		var oldest time.Time
		for k, at := range g.greeted {
			if oldestKey == "" || at.Before(oldest) {
				oldestKey, oldest = k, at
			}
		}
		delete(g.greeted, oldestKey)
	}
}
