// Package discord mirrors live chat into a Discord channel through the Bot REST API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/telemetry"
)

// maxContent is Discord's message length limit.
const maxContent = 2000

type poster interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Mirror is a chat.Subscriber that posts each message to one Discord channel. Posts
// beyond the rate limit are dropped so a busy chat cannot stall the monitor.
type Mirror struct {
	session   poster
	channelID string
	platform  string
	limiter   *rate.Limiter
}

// NewMirror creates a mirror using a bot token. perSecond <= 0 defaults to 1.
func NewMirror(token, channelID, platform string, perSecond float64) (*Mirror, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord mirror needs a bot token and channel id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return newMirror(session, channelID, platform, perSecond), nil
}

func newMirror(p poster, channelID, platform string, perSecond float64) *Mirror {
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Mirror{
		session:   p,
		channelID: channelID,
		platform:  platform,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Notify implements chat.Subscriber.
func (m *Mirror) Notify(ctx context.Context, msg chat.Message) error {
	if !m.limiter.Allow() {
		telemetry.Inc(telemetry.MirrorFailures)
		slog.Debug("discord mirror: rate limited, dropping message", slog.String("message_id", msg.ID))
		return nil
	}
	if _, err := m.session.ChannelMessageSend(m.channelID, format(m.platform, msg), discordgo.WithContext(ctx)); err != nil {
		telemetry.Inc(telemetry.MirrorFailures)
		return fmt.Errorf("discord mirror: %w", err)
	}
	return nil
}

var markdown = strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "~", `\~`, "|", `\|`)

func format(platform string, msg chat.Message) string {
	author := markdown.Replace(msg.Author)
	if author == "" {
		author = "unknown"
	}
	var b strings.Builder
	if platform != "" {
		b.WriteString("[" + platform + "] ")
	}
	b.WriteString("**" + author + "**: ")
	b.WriteString(msg.Text)
	out := b.String()
	if r := []rune(out); len(r) > maxContent {
		out = string(r[:maxContent-3]) + "..."
	}
	return out
}
