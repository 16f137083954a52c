package chat

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// gateway is the only path from the monitor to the Source. Every call runs on a worker
// goroutine bounded by sem and carries a per-call timeout, so the caller's only
// suspension points are here and it can always be interrupted through its context.
type gateway struct {
	src     Source
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newGateway(src Source, workers int, timeout time.Duration) *gateway {
	if workers <= 0 {
		workers = 2
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &gateway{src: src, sem: semaphore.NewWeighted(int64(workers)), timeout: timeout}
}

func (g *gateway) fetch(ctx context.Context, handle, cursor string) (*Batch, error) {
	var batch *Batch
	err := g.do(ctx, func(cctx context.Context) error {
		b, err := g.src.FetchBatch(cctx, handle, cursor)
		batch = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (g *gateway) send(ctx context.Context, handle, text string) error {
	return g.do(ctx, func(cctx context.Context) error {
		return g.src.SendRaw(cctx, handle, text)
	})
}

func (g *gateway) do(ctx context.Context, fn func(context.Context) error) error {
	if g.src == nil {
		return fmt.Errorf("no chat source configured")
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	done := make(chan error, 1)
	go func() {
		defer g.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("chat source panic: %v", r)
			}
		}()
		done <- fn(cctx)
	}()
	select {
	case err := <-done:
		cancel()
		return err
	case <-cctx.Done():
		// the worker sees the same cancellation; its result is dropped
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chat source call timed out after %s: %w", g.timeout, cctx.Err())
	}
}
