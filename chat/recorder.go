package chat

import (
	"context"
	"database/sql"

	"github.com/onnwee/chatpilot/db"
	"github.com/onnwee/chatpilot/telemetry"
)

type handleKey struct{}

// withHandle tags the tick context with the session's chat handle.
func withHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleKey{}, handle)
}

// HandleFromContext returns the chat handle a subscriber is being notified for.
func HandleFromContext(ctx context.Context) string {
	h, _ := ctx.Value(handleKey{}).(string)
	return h
}

// Recorder is a Subscriber that stores every inbound message in chat_messages.
// Messages already stored (same platform and id) are skipped.
type Recorder struct {
	DB       *sql.DB
	Platform string
}

// NewRecorder returns a recorder for platform.
func NewRecorder(conn *sql.DB, platform string) *Recorder {
	return &Recorder{DB: conn, Platform: platform}
}

// Notify implements Subscriber.
func (r *Recorder) Notify(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return nil
	}
	inserted, err := db.InsertChatMessage(ctx, r.DB, db.ChatRow{
		Platform:    r.Platform,
		Handle:      HandleFromContext(ctx),
		MessageID:   msg.ID,
		Author:      msg.Author,
		Text:        msg.Text,
		PublishedAt: msg.PublishedAt,
	})
	if err != nil {
		return err
	}
	if inserted {
		telemetry.Inc(telemetry.MessagesRecorded)
	}
	return nil
}
