package greeter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/compose"
)

type fakeSender struct {
	fail bool
	sent []string
}

func (f *fakeSender) Send(_ context.Context, text string) bool {
	if f.fail {
		return false
	}
	f.sent = append(f.sent, text)
	return true
}

type mutedSet map[string]bool

func (m mutedSet) IsMuted(author string) bool { return m[author] }

func newTestGreeter(send Sender, muted MuteChecker, opts Options) (*Greeter, *time.Time) {
	g := New(send, muted, opts)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	g.pickN = func(int) int { return 0 }
	return g, &now
}

func TestGreeter_WelcomesOncePerSession(t *testing.T) {
	s := &fakeSender{}
	g, now := newTestGreeter(s, nil, Options{Templates: []string{"Welcome {user}! 👋"}, SessionTimeout: time.Hour})
	ctx := context.Background()

	_ = g.Notify(ctx, chat.Message{Author: "Aman", Text: "hi"})
	_ = g.Notify(ctx, chat.Message{Author: "aman", Text: "again"})
	if len(s.sent) != 1 || s.sent[0] != "Welcome Aman! 👋" {
		t.Fatalf("sent = %q", s.sent)
	}

	*now = now.Add(time.Hour)
	_ = g.Notify(ctx, chat.Message{Author: "Aman", Text: "back"})
	if len(s.sent) != 2 {
		t.Errorf("author not re-greeted after session timeout: %q", s.sent)
	}
}

func TestGreeter_MinInterval(t *testing.T) {
	s := &fakeSender{}
	g, now := newTestGreeter(s, nil, Options{Templates: []string{"hi {user}"}, MinInterval: 3 * time.Second})
	ctx := context.Background()

	_ = g.Notify(ctx, chat.Message{Author: "A"})
	*now = now.Add(time.Second)
	_ = g.Notify(ctx, chat.Message{Author: "B"})
	*now = now.Add(2 * time.Second)
	_ = g.Notify(ctx, chat.Message{Author: "B"})
	if fmt.Sprint(s.sent) != "[hi A hi B]" {
		t.Errorf("sent = %q", s.sent)
	}
}

func TestGreeter_SkipsMutedAndFailed(t *testing.T) {
	s := &fakeSender{fail: true}
	g, _ := newTestGreeter(s, mutedSet{"Nightbot": true}, Options{Templates: []string{"hi {user}"}})
	ctx := context.Background()

	_ = g.Notify(ctx, chat.Message{Author: "Nightbot"})
	_ = g.Notify(ctx, chat.Message{Author: "Riya"})
	if g.Greeted() != 0 {
		t.Fatal("failed send was recorded as greeted")
	}
	s.fail = false
	_ = g.Notify(ctx, chat.Message{Author: "Riya"})
	_ = g.Notify(ctx, chat.Message{Author: "Nightbot"})
	if len(s.sent) != 1 || s.sent[0] != "hi Riya" {
		t.Errorf("sent = %q", s.sent)
	}
}

func TestGreeter_NoTemplatesIsNoop(t *testing.T) {
	s := &fakeSender{}
	g, _ := newTestGreeter(s, nil, Options{})
	_ = g.Notify(context.Background(), chat.Message{Author: "A"})
	if len(s.sent) != 0 {
		t.Errorf("sent = %q", s.sent)
	}
}

func TestGreeter_BoundedTable(t *testing.T) {
	s := &fakeSender{}
	g, now := newTestGreeter(s, nil, Options{Templates: []string{"hi"}, SessionTimeout: 24 * time.Hour})
	ctx := context.Background()
	for i := 0; i < MaxTracked+10; i++ {
		*now = now.Add(time.Millisecond)
		_ = g.Notify(ctx, chat.Message{Author: fmt.Sprintf("user%d", i)})
	}
	if got := g.Greeted(); got != MaxTracked {
		t.Errorf("tracked = %d, want %d", got, MaxTracked)
	}
	g.mu.Lock()
	_, oldest := g.greeted["user0"]
	_, newest := g.greeted[fmt.Sprintf("user%d", MaxTracked+9)]
	g.mu.Unlock()
	if oldest || !newest {
		t.Errorf("wrong entries evicted: oldest kept=%v newest kept=%v", oldest, newest)
	}

	g.Reset()
	if g.Greeted() != 0 {
		t.Error("Reset kept entries")
	}
}

type failingResponder struct{ calls int }

func (f *failingResponder) TryRespond(context.Context, chat.Message) (string, error) {
	f.calls++
	return "", errors.New("model overloaded")
}

type echoResponder struct{}

func (echoResponder) TryRespond(_ context.Context, msg chat.Message) (string, error) {
	return "Arre " + msg.Author + ", swagat hai! 🎉", nil
}

// rejectingSender fails sends whose text starts with prefix.
type rejectingSender struct {
	prefix string
	sent   []string
}

func (r *rejectingSender) Send(_ context.Context, text string) bool {
	if strings.HasPrefix(text, r.prefix) {
		return false
	}
	r.sent = append(r.sent, text)
	return true
}

var greetTiers = compose.Tiers{
	Premium:  []string{"premium {user}"},
	Standard: []string{"standard {user}"},
	Simple:   []string{"simple {user}"},
}

func TestGreeter_ComposedWelcome(t *testing.T) {
	s := &fakeSender{}
	c := compose.New(echoResponder{}, greetTiers, compose.Options{Name: "greeter", MinLength: 5})
	g, _ := newTestGreeter(s, nil, Options{Composer: c})
	_ = g.Notify(context.Background(), chat.Message{Author: "Aman"})
	if len(s.sent) != 1 || s.sent[0] != "Arre Aman, swagat hai! 🎉" {
		t.Fatalf("sent = %q", s.sent)
	}
}

func TestGreeter_ResponderBreakerFallsBackThroughTiers(t *testing.T) {
	s := &fakeSender{}
	r := &failingResponder{}
	c := compose.New(r, greetTiers, compose.Options{Name: "greeter", MaxFailures: 3})
	g, _ := newTestGreeter(s, nil, Options{Composer: c})
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C", "D"} {
		_ = g.Notify(ctx, chat.Message{Author: name})
	}
	want := []string{"premium A", "premium B", "premium C", "standard D"}
	if fmt.Sprint(s.sent) != fmt.Sprint(want) {
		t.Fatalf("sent = %q, want %q", s.sent, want)
	}
	if r.calls != 3 {
		t.Errorf("responder calls = %d, want 3 before the breaker opened", r.calls)
	}
}

func TestGreeter_FailedSendUsesSimpleTier(t *testing.T) {
	s := &rejectingSender{prefix: "standard"}
	c := compose.New(nil, greetTiers, compose.Options{Name: "greeter"})
	g, _ := newTestGreeter(s, nil, Options{Composer: c})
	_ = g.Notify(context.Background(), chat.Message{Author: "Riya"})
	if len(s.sent) != 1 || s.sent[0] != "simple Riya" {
		t.Fatalf("sent = %q", s.sent)
	}
	if g.Greeted() != 1 {
		t.Error("simple-tier welcome was not recorded")
	}
}
