// Package compose builds short chat texts for subscribers such as the greeter. A
// chat.Responder is tried first under a timeout; when it fails or is unavailable a
// template is picked from tiered pools. Repeated responder failures open a breaker
// that skips the responder for a cooldown period.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/telemetry"
)

// Source says where a composed text came from.
type Source string

const (
	SourceAI       Source = "ai"
	SourceCache    Source = "cache"
	SourcePremium  Source = "premium"
	SourceStandard Source = "standard"
	SourceSimple   Source = "simple"
)

// ErrTooShort is returned for responder output under Options.MinLength runes.
var ErrTooShort = errors.New("compose: generated text too short")

// Tiers are the fallback pools. Premium is used when the responder just failed, Standard
// when it is unavailable, Simple as the last resort. Templates may contain "{user}".
type Tiers struct {
	Premium  []string
	Standard []string
	Simple   []string
}

// Options configures a Composer. Zero values take the defaults noted.
type Options struct {
	Name        string        // used in logs and metrics
	Timeout     time.Duration // per responder call, default 3s
	MaxFailures int           // consecutive failures that open the breaker, default 3
	Cooldown    time.Duration // breaker open time, default 5m
	MinLength   int           // shorter responder output counts as a failure
	CacheSize   int           // recent responder texts kept for reuse, 0 disables
	ReuseChance float64       // probability of reusing a cached text
}

// Request is one text to compose.
type Request struct {
	User   string // replaces "{user}"; also templated out of cached texts
	Prompt string // instruction given to the responder
}

// Composer is safe for concurrent use.
type Composer struct {
	resp  chat.Responder
	tiers Tiers
	opts  Options

	now   func() time.Time
	pickN func(n int) int
	roll  func() float64

	mu            sync.Mutex
	failures      int
	disabledUntil time.Time
	cache         []string
}

// New returns a Composer. resp may be nil, in which case only templates are used.
func New(resp chat.Responder, tiers Tiers, opts Options) *Composer {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}
	if opts.Name == "" {
		opts.Name = "compose"
	}
	return &Composer{
		resp:  resp,
		tiers: tiers,
		opts:  opts,
		now:   time.Now,
		pickN: rand.IntN,
		roll:  rand.Float64,
	}
}

// Compose returns a text for req and where it came from. The text is empty only when
// the responder failed and every pool is empty.
func (c *Composer) Compose(ctx context.Context, req Request) (string, Source) {
	if !c.available() {
		return c.fallback(req, SourceStandard)
	}
	if text, ok := c.cached(req); ok {
		c.count(SourceCache)
		return text, SourceCache
	}
	text, err := c.generate(ctx, req)
	if err != nil {
		c.fail(ctx, err)
		return c.fallback(req, SourcePremium)
	}
	c.succeed(req, text)
	c.count(SourceAI)
	return text, SourceAI
}

// Emergency picks from the simple tier, falling back to the others when it is empty.
func (c *Composer) Emergency(req Request) (string, Source) {
	return c.fallback(req, SourceSimple)
}

// Available reports whether the responder would be tried now.
func (c *Composer) Available() bool { return c.available() }

func (c *Composer) available() bool {
	if c.resp == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabledUntil.IsZero() {
		return true
	}
	if c.now().Before(c.disabledUntil) {
		return false
	}
	c.disabledUntil = time.Time{}
	c.failures = 0
	slog.Info(c.opts.Name+": responder cooldown expired, re-enabled")
	return true
}

func (c *Composer) generate(ctx context.Context, req Request) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("responder panic: %v", r)}
			}
		}()
		text, err := c.resp.TryRespond(rctx, chat.Message{Author: req.User, Text: req.Prompt})
		ch <- result{text, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		text := strings.TrimSpace(r.text)
		if text == "" || len([]rune(text)) < c.opts.MinLength {
			return "", ErrTooShort
		}
		return text, nil
	case <-rctx.Done():
		return "", rctx.Err()
	}
}

func (c *Composer) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// the caller gave up; not the responder's fault
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	slog.Warn(c.opts.Name+": responder failed, using template",
		slog.Int("failures", c.failures), slog.Any("err", err))
	if c.failures >= c.opts.MaxFailures {
		c.disabledUntil = c.now().Add(c.opts.Cooldown)
		slog.Warn(c.opts.Name+": responder disabled after repeated failures",
			slog.Time("until", c.disabledUntil))
	}
}

func (c *Composer) succeed(req Request, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	if c.opts.CacheSize <= 0 {
		return
	}
	tmpl := text
	if req.User != "" {
		tmpl = strings.ReplaceAll(text, req.User, "{user}")
	}
	for _, t := range c.cache {
		if t == tmpl {
			return
		}
	}
	if len(c.cache) >= c.opts.CacheSize {
		c.cache = c.cache[1:]
	}
	c.cache = append(c.cache, tmpl)
}

func (c *Composer) cached(req Request) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) == 0 || c.roll() >= c.opts.ReuseChance {
		return "", false
	}
	return fill(c.cache[c.pickN(len(c.cache))], req.User), true
}

// fallback picks from the tier for src, moving down the tiers (and then up) past
// empty pools.
func (c *Composer) fallback(req Request, src Source) (string, Source) {
	order := []Source{SourcePremium, SourceStandard, SourceSimple}
	start := 0
	for i, s := range order {
		if s == src {
			start = i
		}
	}
	for i := range order {
		s := order[(start+i)%len(order)]
		pool := c.pool(s)
		if len(pool) == 0 {
			continue
		}
		c.mu.Lock()
		t := pool[c.pickN(len(pool))]
		c.mu.Unlock()
		c.count(s)
		return fill(t, req.User), s
	}
	return "", src
}

func (c *Composer) pool(s Source) []string {
	switch s {
	case SourcePremium:
		return c.tiers.Premium
	case SourceStandard:
		return c.tiers.Standard
	default:
		return c.tiers.Simple
	}
}

func (c *Composer) count(s Source) {
	telemetry.IncComposed(c.opts.Name, string(s))
}

func fill(tmpl, user string) string {
	return strings.ReplaceAll(tmpl, "{user}", user)
}
