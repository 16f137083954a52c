package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatpilot/chat"
)

// NOTICE msg-ids that mean the channel's chat is gone.
var endedNotices = map[string]bool{
	"msg_channel_suspended": true,
	"msg_room_not_found":    true,
}

// ircClient is the subset of *twitch.Client the source drives.
type ircClient interface {
	Join(channels ...string)
	Depart(channel string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

type buffered struct {
	seq uint64
	msg chat.Message
}

// IRCSource adapts Twitch IRC (push based) to chat.Source (pull based). Messages for the
// joined channel are buffered; FetchBatch returns everything after the cursor, which is
// the sequence number of the last message returned.
type IRCSource struct {
	client   ircClient
	capacity int

	mu        sync.Mutex
	started   bool
	channel   string
	seq       uint64
	buf       []buffered
	ended     map[string]string
	connErr   error
	dropped   int
	closeOnce sync.Once
}

// NewIRCSource builds a source for the bot account. accessToken may be given with or
// without the "oauth:" prefix. capacity bounds the buffer between polls.
func NewIRCSource(username, accessToken string, capacity int) *IRCSource {
	c := twitch.NewClient(username, IRCPassword(accessToken))
	s := newIRCSource(c, capacity)
	c.OnPrivateMessage(func(m twitch.PrivateMessage) {
		author := m.User.DisplayName
		if author == "" {
			author = m.User.Name
		}
		s.push(m.Channel, chat.Message{ID: m.ID, Author: author, Text: m.Message, PublishedAt: m.Time})
	})
	c.OnNoticeMessage(func(m twitch.NoticeMessage) {
		s.notice(m.Channel, m.MsgID, m.Message)
	})
	c.OnConnect(func() {
		slog.Info("twitch irc: connected", slog.String("component", "twitch_irc"))
	})
	return s
}

func newIRCSource(c ircClient, capacity int) *IRCSource {
	if capacity <= 0 {
		capacity = 1000
	}
	return &IRCSource{client: c, capacity: capacity, ended: map[string]string{}}
}

// FetchBatch joins handle on first use (leaving any previous channel) and returns the
// buffered messages newer than cursor. An empty cursor starts a new session, which
// rejoins a channel an earlier NOTICE marked as ended.
func (s *IRCSource) FetchBatch(ctx context.Context, handle, cursor string) (*chat.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channel := normalizeChannel(handle)
	if channel == "" {
		return nil, chat.ErrEmptyHandle
	}
	var after uint64
	if cursor != "" {
		v, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("twitch irc: bad cursor %q: %w", cursor, err)
		}
		after = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
	if s.connErr != nil {
		err := s.connErr
		s.connErr = nil
		return nil, fmt.Errorf("twitch irc: %w", err)
	}
	if s.channel != channel {
		if s.channel != "" {
			s.client.Depart(s.channel)
		}
		s.client.Join(channel)
		s.channel = channel
		s.buf = nil
		delete(s.ended, channel)
	} else if _, gone := s.ended[channel]; gone && cursor == "" {
		// empty cursor means a new session; give the channel another try
		s.client.Join(channel)
		delete(s.ended, channel)
	}
	if id, ok := s.ended[channel]; ok {
		return nil, fmt.Errorf("twitch irc: %s: %w", id, chat.ErrSessionEnded)
	}
	if s.dropped > 0 {
		slog.Warn("twitch irc: buffer overflow, messages dropped", slog.Int("dropped", s.dropped))
		s.dropped = 0
	}

	// never hand back an empty cursor, so only a new session fetches with ""
	b := &chat.Batch{NextCursor: strconv.FormatUint(after, 10)}
	keep := s.buf[:0]
	for _, e := range s.buf {
		if e.seq > after {
			b.Messages = append(b.Messages, e.msg)
			b.NextCursor = strconv.FormatUint(e.seq, 10)
			keep = append(keep, e)
		}
	}
	// what the caller has acknowledged via cursor can go
	s.buf = keep
	return b, nil
}

// SendRaw says text in handle's channel.
func (s *IRCSource) SendRaw(ctx context.Context, handle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel := normalizeChannel(handle)
	if channel == "" || text == "" {
		return errors.New("twitch irc: empty channel or text")
	}
	s.mu.Lock()
	s.connectLocked()
	_, gone := s.ended[channel]
	s.mu.Unlock()
	if gone {
		return fmt.Errorf("twitch irc: %w", chat.ErrSessionEnded)
	}
	s.client.Say(channel, text)
	return nil
}

// Close disconnects the IRC client.
func (s *IRCSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			err = s.client.Disconnect()
		}
	})
	return err
}

// connectLocked starts the client's read loop once. Connect blocks until disconnect and
// the client reconnects on its own; a returned error is surfaced on the next fetch.
func (s *IRCSource) connectLocked() {
	if s.started {
		return
	}
	s.started = true
	go func() {
		err := s.client.Connect()
		if err == nil || errors.Is(err, twitch.ErrClientDisconnected) {
			return
		}
		slog.Error("twitch irc: connect", slog.Any("err", err))
		s.mu.Lock()
		s.connErr = err
		s.started = false
		s.mu.Unlock()
	}()
}

func (s *IRCSource) push(channel string, msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if normalizeChannel(channel) != s.channel {
		return
	}
	s.seq++
	if len(s.buf) >= s.capacity {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, buffered{seq: s.seq, msg: msg})
}

func (s *IRCSource) notice(channel, msgID, text string) {
	if !endedNotices[msgID] {
		slog.Debug("twitch irc: notice", slog.String("msg_id", msgID), slog.String("text", text))
		return
	}
	slog.Warn("twitch irc: channel unavailable", slog.String("channel", channel), slog.String("msg_id", msgID))
	s.mu.Lock()
	s.ended[normalizeChannel(channel)] = msgID
	s.mu.Unlock()
}
