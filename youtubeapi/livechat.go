package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatpilot/chat"
)

// googleapi error reasons meaning the live chat is gone for good.
var endedReasons = map[string]bool{
	"liveChatEnded":    true,
	"liveChatNotFound": true,
	"liveChatDisabled": true,
}

// LiveChat implements chat.Source over liveChatMessages; the handle is a liveChatId and
// the cursor is the API page token.
type LiveChat struct {
	Client     ClientFunc
	MaxResults int64
}

// NewLiveChat builds a source on svc.
func NewLiveChat(svc *Service) *LiveChat { return &LiveChat{Client: svc.Client} }

// FetchBatch lists messages after cursor.
func (l *LiveChat) FetchBatch(ctx context.Context, handle, cursor string) (*chat.Batch, error) {
	svc, err := l.Client(ctx)
	if err != nil {
		return nil, err
	}
	call := svc.LiveChatMessages.List(handle, []string{"snippet", "authorDetails"}).Context(ctx)
	if l.MaxResults > 0 {
		call = call.MaxResults(l.MaxResults)
	}
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}
	if resp.OfflineAt != "" {
		return nil, fmt.Errorf("youtube live chat offline since %s: %w", resp.OfflineAt, chat.ErrSessionEnded)
	}
	b := &chat.Batch{
		NextCursor: resp.NextPageToken,
		PollAfter:  time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range resp.Items {
		if m, ok := toMessage(item); ok {
			b.Messages = append(b.Messages, m)
		}
	}
	return b, nil
}

// SendRaw posts a text message.
func (l *LiveChat) SendRaw(ctx context.Context, handle, text string) error {
	svc, err := l.Client(ctx)
	if err != nil {
		return err
	}
	msg := &yt.LiveChatMessage{Snippet: &yt.LiveChatMessageSnippet{
		LiveChatId:         handle,
		Type:               "textMessageEvent",
		TextMessageDetails: &yt.LiveChatTextMessageDetails{MessageText: text},
	}}
	if _, err := svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

func toMessage(item *yt.LiveChatMessage) (chat.Message, bool) {
	if item == nil || item.Snippet == nil {
		return chat.Message{}, false
	}
	text := item.Snippet.DisplayMessage
	if text == "" && item.Snippet.TextMessageDetails != nil {
		text = item.Snippet.TextMessageDetails.MessageText
	}
	m := chat.Message{ID: item.Id, Text: text}
	if item.AuthorDetails != nil {
		m.Author = item.AuthorDetails.DisplayName
	}
	if t, err := time.Parse(time.RFC3339Nano, item.Snippet.PublishedAt); err == nil {
		m.PublishedAt = t
	}
	return m, true
}

// classify wraps errors that mean the chat is gone with chat.ErrSessionEnded.
func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("youtube live chat: %w", err)
	}
	for _, e := range gerr.Errors {
		if endedReasons[e.Reason] {
			return fmt.Errorf("youtube live chat %s: %w: %w", e.Reason, chat.ErrSessionEnded, err)
		}
	}
	if gerr.Code == http.StatusNotFound || strings.Contains(gerr.Message, "liveChatId not found") {
		return fmt.Errorf("youtube live chat not found: %w: %w", chat.ErrSessionEnded, err)
	}
	return fmt.Errorf("youtube live chat: %w", err)
}
