package chat

import (
	"context"
	"sync"

	"github.com/onnwee/chatpilot/telemetry"
)

// Broadcaster is a Subscriber that fans messages out to live stream clients (the SSE
// endpoint). Each client gets a bounded channel; a client that falls behind loses
// messages instead of slowing the tick.
type Broadcaster struct {
	buffer int

	mu      sync.Mutex
	clients map[chan Message]struct{}
}

// NewBroadcaster returns a broadcaster with per-client buffers of size buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{buffer: buffer, clients: make(map[chan Message]struct{})}
}

// Listen registers a client. The returned cancel func unregisters it and closes the channel.
func (b *Broadcaster) Listen() (<-chan Message, func()) {
	ch := make(chan Message, b.buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Notify implements Subscriber. It never blocks.
func (b *Broadcaster) Notify(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			telemetry.Inc(telemetry.BroadcastDropped)
		}
	}
	return nil
}
