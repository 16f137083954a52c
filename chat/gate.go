package chat

import (
	"strings"
	"sync/atomic"
	"time"
)

// Gate decision reasons, also used as metric labels.
const (
	ReasonNoResponder = "no_responder"
	ReasonCooldown    = "cooldown"
	ReasonMutedAuthor = "muted_author"
	ReasonBannedTerm  = "banned_term"
	ReasonNoTrigger   = "no_trigger"
	ReasonTrigger     = "trigger"
)

// Decision is the outcome of a gate evaluation.
type Decision struct {
	Permit bool
	Reason string
}

// Gate decides whether an automated reply should be attempted for a message.
// The cooldown is global, not per author. lastResponseAt moves only when a reply
// was actually delivered.
type Gate struct {
	cooldown time.Duration
	muted    map[string]struct{}
	banned   []string
	triggers []string

	lastResponseAt atomic.Int64 // unix nanos, 0 = never
}

// NewGate builds a gate. Filter entries are compared case-insensitively.
func NewGate(cooldown time.Duration, mutedAuthors, bannedTerms, triggerTerms []string) *Gate {
	g := &Gate{cooldown: cooldown, muted: make(map[string]struct{}, len(mutedAuthors))}
	for _, a := range mutedAuthors {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			g.muted[a] = struct{}{}
		}
	}
	g.banned = lowerAll(bannedTerms)
	g.triggers = lowerAll(triggerTerms)
	return g
}

// Evaluate runs the checks cheapest first and stops at the first that decides.
func (g *Gate) Evaluate(msg Message, hasResponder bool, now time.Time) Decision {
	if !hasResponder {
		return Decision{Reason: ReasonNoResponder}
	}
	if last := g.lastResponseAt.Load(); last != 0 && now.Sub(time.Unix(0, last)) < g.cooldown {
		return Decision{Reason: ReasonCooldown}
	}
	if g.IsMuted(msg.Author) {
		return Decision{Reason: ReasonMutedAuthor}
	}
	text := strings.ToLower(msg.Text)
	for _, b := range g.banned {
		if strings.Contains(text, b) {
			return Decision{Reason: ReasonBannedTerm}
		}
	}
	// substring match: "rukiya" matches inside "misrukiyan"
	for _, t := range g.triggers {
		if strings.Contains(text, t) {
			return Decision{Permit: true, Reason: ReasonTrigger}
		}
	}
	return Decision{Reason: ReasonNoTrigger}
}

// Permits reports whether a reply may be attempted.
func (g *Gate) Permits(msg Message, hasResponder bool, now time.Time) bool {
	return g.Evaluate(msg, hasResponder, now).Permit
}

// IsMuted reports whether author matches a muted author, ignoring case.
func (g *Gate) IsMuted(author string) bool {
	_, ok := g.muted[strings.ToLower(strings.TrimSpace(author))]
	return ok
}

// MarkResponded records a delivered reply and starts the cooldown.
func (g *Gate) MarkResponded(at time.Time) { g.lastResponseAt.Store(at.UnixNano()) }

// LastResponseAt returns the time of the last delivered reply, zero if none.
func (g *Gate) LastResponseAt() time.Time {
	if v := g.lastResponseAt.Load(); v != 0 {
		return time.Unix(0, v)
	}
	return time.Time{}
}

// CooldownRemaining returns how long until another reply is allowed.
func (g *Gate) CooldownRemaining(now time.Time) time.Duration {
	last := g.LastResponseAt()
	if last.IsZero() {
		return 0
	}
	if rem := g.cooldown - now.Sub(last); rem > 0 {
		return rem
	}
	return 0
}

func (g *Gate) reset() { g.lastResponseAt.Store(0) }

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
