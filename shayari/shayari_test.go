package shayari

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
	reject string
	sent   []string
}

func (f *fakeSender) Send(_ context.Context, text string) bool {
	if f.reject != "" && strings.HasPrefix(text, f.reject) {
		return false
	}
	f.sent = append(f.sent, text)
	return true
}

type mutedSet map[string]bool

func (m mutedSet) IsMuted(author string) bool { return m[author] }

type poetResponder struct {
	err    error
	prompt string
}

func (p *poetResponder) TryRespond(_ context.Context, msg chat.Message) (string, error) {
	p.prompt = msg.Text
	if p.err != nil {
		return "", p.err
	}
	return "Chaand sitaare saath chale,\nDil ki baatein raat chale 🌙", nil
}

var testTiers = compose.Tiers{
	Premium:  []string{"premium"},
	Standard: []string{"standard"},
	Simple:   []string{"simple"},
}

func newTestShayari(send Sender, resp chat.Responder, opts Options) (*Shayari, *time.Time) {
	c := compose.New(resp, testTiers, compose.Options{Name: "shayari", MinLength: 20})
	s := New(send, mutedSet{"Nightbot": true}, c, opts)
	now := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.pickN = func(int) int { return 0 }
	return s, &now
}

func TestShayari_TriggerMatching(t *testing.T) {
	tests := []struct {
		name   string
		author string
		text   string
		want   bool
	}{
		{"trigger phrase", "Aman", "bhai ek shayari ho jaye", true},
		{"case insensitive", "Aman", "SHAYARI SUNAO please", true},
		{"no trigger", "Aman", "shayar log kahan hai", false},
		{"muted author", "Nightbot", "koi shayari", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send := &fakeSender{}
			s, _ := newTestShayari(send, nil, Options{})
			_ = s.Notify(context.Background(), chat.Message{Author: tt.author, Text: tt.text})
			if got := len(send.sent) == 1; got != tt.want {
				t.Errorf("sent = %q, want a shayari: %v", send.sent, tt.want)
			}
		})
	}
}

func TestShayari_GeneratedByResponder(t *testing.T) {
	send := &fakeSender{}
	r := &poetResponder{}
	s, _ := newTestShayari(send, r, Options{})
	_ = s.Notify(context.Background(), chat.Message{Author: "Aman", Text: "ru shayari"})
	if len(send.sent) != 1 || !strings.HasPrefix(send.sent[0], "Chaand sitaare") {
		t.Fatalf("sent = %q", send.sent)
	}
	if !strings.Contains(r.prompt, themes[0]) {
		t.Errorf("prompt %q does not name the theme", r.prompt)
	}
}

func TestShayari_IntervalAndUserCooldown(t *testing.T) {
	send := &fakeSender{}
	s, now := newTestShayari(send, nil, Options{MinInterval: 5 * time.Second, UserCooldown: 30 * time.Second})
	ctx := context.Background()
	ask := func(author string) { _ = s.Notify(ctx, chat.Message{Author: author, Text: "koi shayari"}) }

	ask("A")
	*now = now.Add(2 * time.Second)
	ask("B") // global interval
	*now = now.Add(4 * time.Second)
	ask("A") // A still cooling down
	ask("B")
	*now = now.Add(30 * time.Second)
	ask("A")
	if len(send.sent) != 3 {
		t.Fatalf("sent %d shayaris, want 3: %q", len(send.sent), send.sent)
	}
	s.mu.Lock()
	tracked := len(s.users)
	s.mu.Unlock()
	if tracked != 1 {
		t.Errorf("expired cooldowns not pruned, tracked = %d", tracked)
	}
}

func TestShayari_FallbackTiers(t *testing.T) {
	tests := []struct {
		name   string
		resp   chat.Responder
		reject string
		want   string
	}{
		{"no responder", nil, "", "standard"},
		{"responder failed", &poetResponder{err: errors.New("quota")}, "", "premium"},
		{"send failed", nil, "standard", "simple"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send := &fakeSender{reject: tt.reject}
			s, _ := newTestShayari(send, tt.resp, Options{})
			_ = s.Notify(context.Background(), chat.Message{Author: "Riya", Text: "shayari suna"})
			if fmt.Sprint(send.sent) != "["+tt.want+"]" {
				t.Errorf("sent = %q, want %q", send.sent, tt.want)
			}
		})
	}
}

func TestShayari_NothingDeliveredKeepsAuthorEligible(t *testing.T) {
	send := &fakeSender{reject: "s"}
	s, _ := newTestShayari(send, nil, Options{})
	ctx := context.Background()
	_ = s.Notify(ctx, chat.Message{Author: "Riya", Text: "ek shayari"})
	if len(send.sent) != 0 {
		t.Fatalf("sent = %q", send.sent)
	}
	send.reject = ""
	_ = s.Notify(ctx, chat.Message{Author: "Riya", Text: "ek shayari"})
	if len(send.sent) != 1 {
		t.Errorf("author blocked after a failed delivery: %q", send.sent)
	}
}
