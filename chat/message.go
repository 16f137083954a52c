package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionEnded is returned (wrapped) by a Source when the remote chat no longer exists.
	ErrSessionEnded = errors.New("chat session ended")
	// ErrEmptyHandle is returned by Start when no chat handle is given.
	ErrEmptyHandle = errors.New("chat handle is empty")
	// ErrNotLive is returned by a LiveResolver when the stream is offline.
	ErrNotLive = errors.New("stream not live")
)

// Message is one inbound chat message. Author is a display name, not a stable identity.
type Message struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
}

// Batch is the result of one fetch. PollAfter is the source's suggested minimum wait
// before the next fetch; zero means no suggestion.
type Batch struct {
	Messages   []Message
	NextCursor string
	PollAfter  time.Duration
}

// Source is the chat platform adapter. Both calls may block on the network.
// A nil or empty Batch means nothing new; errors wrapping ErrSessionEnded stop the monitor.
type Source interface {
	FetchBatch(ctx context.Context, handle, cursor string) (*Batch, error)
	SendRaw(ctx context.Context, handle, text string) error
}

// Responder produces an automated reply for a message. An empty string means no reply.
type Responder interface {
	TryRespond(ctx context.Context, msg Message) (string, error)
}

// LiveResolver reports the chat handle of the current live stream, or ErrNotLive.
type LiveResolver interface {
	ResolveLive(ctx context.Context) (string, error)
}

// SendKind labels outbound sends for logs, metrics and the pending queue.
type SendKind string

const (
	KindReply    SendKind = "reply"
	KindIdle     SendKind = "idle"
	KindExternal SendKind = "external"
)
