package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// StartAutoMonitor polls resolver and starts the monitor when the stream goes live,
// stopping it again when the stream goes offline. Sessions started by hand are left
// alone unless the resolver reports a different live chat. Blocks until ctx is done.
func StartAutoMonitor(ctx context.Context, m *Monitor, resolver LiveResolver, every time.Duration) {
	if m == nil || resolver == nil {
		slog.Info("auto monitor: no resolver configured; abort")
		return
	}
	if every <= 0 {
		every = 30 * time.Second
	}
	var autoHandle string

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	slog.Info("auto monitor: started poller", slog.Duration("interval", every))
	for {
		if ctx.Err() != nil {
			return
		}
		autoHandle = autoStep(ctx, m, resolver, autoHandle)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// autoStep runs one resolve and returns the handle the poller now owns ("" if none).
func autoStep(ctx context.Context, m *Monitor, resolver LiveResolver, autoHandle string) string {
	handle, err := resolver.ResolveLive(ctx)
	st := m.Status()
	if errors.Is(err, ErrNotLive) {
		if autoHandle != "" && st.Running && st.Handle == autoHandle {
			slog.Info("auto monitor: stream offline; stopping", slog.String("handle", autoHandle))
			m.Stop()
		}
		return ""
	}
	if err != nil {
		slog.Debug("auto monitor: resolve live chat", slog.Any("err", err))
		return autoHandle
	}
	if st.Running && st.Handle == handle {
		return handle
	}
	slog.Info("auto monitor: stream live; starting monitor", slog.String("handle", handle))
	if err := m.Start(handle); err != nil {
		slog.Warn("auto monitor: start", slog.Any("err", err))
		return ""
	}
	return handle
}
