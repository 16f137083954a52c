package youtubeapi

import (
	"context"
	"fmt"

	"github.com/onnwee/chatpilot/chat"
)

// Resolver finds the live chat id for auto start: from VideoID when set, otherwise from
// the authorized channel's active broadcast.
type Resolver struct {
	Client  ClientFunc
	VideoID string
}

// ResolveLive implements chat.LiveResolver.
func (r *Resolver) ResolveLive(ctx context.Context) (string, error) {
	if r.VideoID != "" {
		return ResolveVideo(ctx, r.Client, r.VideoID)
	}
	svc, err := r.Client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := svc.LiveBroadcasts.List([]string{"snippet"}).BroadcastStatus("active").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube list broadcasts: %w", err)
	}
	for _, b := range resp.Items {
		if b.Snippet != nil && b.Snippet.LiveChatId != "" {
			return b.Snippet.LiveChatId, nil
		}
	}
	return "", chat.ErrNotLive
}

// ResolveVideo returns the active live chat id of videoID, or chat.ErrNotLive.
func ResolveVideo(ctx context.Context, client ClientFunc, videoID string) (string, error) {
	svc, err := client(ctx)
	if err != nil {
		return "", err
	}
	resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube list videos: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("youtube video %s not found", videoID)
	}
	d := resp.Items[0].LiveStreamingDetails
	if d == nil || d.ActiveLiveChatId == "" {
		return "", chat.ErrNotLive
	}
	return d.ActiveLiveChatId, nil
}
