// Package shayari answers chat requests for a shayari (a short Hinglish poem). It is a
// chat.Subscriber: a message containing a trigger phrase gets one shayari, generated by
// the responder when possible, subject to a global interval and a per-author cooldown.
package shayari

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

// Sender delivers a message to the active chat.
type Sender interface {
	Send(ctx context.Context, text string) bool
}

// MuteChecker reports authors whose requests are ignored.
type MuteChecker interface {
	IsMuted(author string) bool
}

// DefaultTriggers are matched case-insensitively as substrings.
var DefaultTriggers = []string{"ru shayari", "shayari suna", "shayari sunao", "koi shayari", "ek shayari"}

// Tiers are the fallback shayaris.
var Tiers = compose.Tiers{
	Premium: []string{
		"Khwaab woh jo neend mein aaye,\nSapne woh jo dil ko bhaaye,\nZindagi mein ek hi armaan hai,\nTumhare saath har pal bitaaye 💫",
		"Manzil mil jaaye ya na mile,\nRaaste chalte rahenge hum,\nHar mushkil ko muskaan se paar karenge,\nYeh hausla kabhi nahi tootega 🔥",
		"Rishte woh jo dil se bante hain,\nWaqt se nahi, jazbaat se bante hain,\nDosti woh mithaas hai,\nJo zindagi ko khoobsurat banaati hai 🌸",
		"Subah ki pehli kiran ho tum,\nRaat ka aakhri taara ho tum,\nZindagi ki har khushi mein,\nMera sabse pyaara sahaara ho tum ✨",
	},
	Standard: []string{
		"Dosti mein na koi din hota hai,\nNa koi raat hoti hai,\nBas ek dost hota hai,\nJo hamesha saath hota hai 💕",
		"Zindagi ek kitaab hai,\nHar din ek naya panna,\nKuch dard likhe hote hain,\nAur kuch khushiyon ka afsana 📖",
		"Waqt ke saath sab badal jaata hai,\nPar dosti ka rishta nahi badalta,\nChahe kitni bhi door ho jaaye,\nDil mein jagah kabhi kam nahi hoti 🫂",
	},
	Simple: []string{
		"Zindagi ek safar hai suhana,\nYahan kal kya ho kisne jaana 🌈",
		"Muskurahat se sab kuch haseen ho jaata hai,\nDil ka dard bhi kam ho jaata hai 😊",
		"Dost woh jo mushkil mein saath de,\nWoh rishta sabse khaas hai 🤝",
	},
}

var themes = []string{
	"friendship and loyalty",
	"life's journey and hope",
	"love and emotions",
	"motivation and success",
	"happiness and celebration",
	"memories and nostalgia",
}

// Prompt asks the responder for a four line shayari on theme.
func Prompt(theme string) string {
	return "Write a beautiful 4-line Hindi shayari in Hinglish (Hindi words in English script) on the theme of '" +
		theme + "'. Make it poetic, emotional and simple to understand, with 1-2 emojis at the end. " +
		"Each line around 8-12 words, one line per row."
}

// Options configures a Shayari subscriber.
type Options struct {
	Triggers     []string
	MinInterval  time.Duration // between any two shayaris, default 5s
	UserCooldown time.Duration // per author, default 30s
}

// Shayari is safe for concurrent use.
type Shayari struct {
	send     Sender
	muted    MuteChecker
	composer *compose.Composer
	opts     Options

	now   func() time.Time
	pickN func(n int) int

	mu       sync.Mutex
	lastSent time.Time
	users    map[string]time.Time
}

// New returns a subscriber. muted may be nil; composer must not be.
func New(send Sender, muted MuteChecker, composer *compose.Composer, opts Options) *Shayari {
	if len(opts.Triggers) == 0 {
		opts.Triggers = DefaultTriggers
	}
	triggers := make([]string, 0, len(opts.Triggers))
	for _, t := range opts.Triggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			triggers = append(triggers, t)
		}
	}
	opts.Triggers = triggers
	if opts.MinInterval <= 0 {
		opts.MinInterval = 5 * time.Second
	}
	if opts.UserCooldown <= 0 {
		opts.UserCooldown = 30 * time.Second
	}
	return &Shayari{
		send:     send,
		muted:    muted,
		composer: composer,
		opts:     opts,
		now:      time.Now,
		pickN:    rand.IntN,
		users:    make(map[string]time.Time),
	}
}

// Notify implements chat.Subscriber.
func (s *Shayari) Notify(ctx context.Context, msg chat.Message) error {
	if !s.triggered(msg.Text) {
		return nil
	}
	author := strings.TrimSpace(msg.Author)
	if s.muted != nil && s.muted.IsMuted(author) {
		return nil
	}
	key := strings.ToLower(author)
	log := telemetry.LoggerWithCorr(ctx)

	s.mu.Lock()
	now := s.now()
	if !s.lastSent.IsZero() && now.Sub(s.lastSent) < s.opts.MinInterval {
		s.mu.Unlock()
		log.Debug("shayari: global interval", slog.String("author", author))
		return nil
	}
	if at, ok := s.users[key]; ok && now.Sub(at) < s.opts.UserCooldown {
		s.mu.Unlock()
		log.Debug("shayari: author cooldown", slog.String("author", author))
		return nil
	}
	req := compose.Request{Prompt: Prompt(themes[s.pickN(len(themes))])}
	s.mu.Unlock()

	text, src := s.composer.Compose(ctx, req)
	sent := text != "" && s.send.Send(ctx, text)
	if !sent && src != compose.SourceSimple && ctx.Err() == nil {
		text, src = s.composer.Emergency(req)
		sent = text != "" && s.send.Send(ctx, text)
	}
	if !sent {
		log.Warn("shayari: nothing delivered", slog.String("author", author))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now = s.now()
	s.lastSent = now
	s.users[key] = now
	for k, at := range s.users {
		if now.Sub(at) >= s.opts.UserCooldown {
			delete(s.users, k)
		}
	}
	telemetry.Inc(telemetry.ShayarisSent)
	log.Info("shayari: sent", slog.String("author", author), slog.String("source", string(src)))
	return nil
}

func (s *Shayari) triggered(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range s.opts.Triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
