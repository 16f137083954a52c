package chat

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/onnwee/chatpilot/telemetry"
)

// Subscriber observes every new inbound message, whether or not a reply is sent.
// Returned errors are logged and never affect other subscribers.
type Subscriber interface {
	Notify(ctx context.Context, msg Message) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, msg Message) error

// Notify calls f.
func (f SubscriberFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Subscription identifies a registration; pass it to Unsubscribe.
type Subscription uint64

type registration struct {
	id   Subscription
	name string
	sub  Subscriber
}

// Registry holds subscribers in insertion order. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	nextID Subscription
	subs   []registration
}

// Subscribe registers s. Registering the same pointer subscriber twice returns the
// existing Subscription. Any other subscriber, func or value, always gets a new one.
func (r *Registry) Subscribe(s Subscriber) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isPointer(s) {
		for _, reg := range r.subs {
			if isPointer(reg.sub) && reg.sub == s {
				return reg.id
			}
		}
	}
	r.nextID++
	r.subs = append(r.subs, registration{id: r.nextID, name: fmt.Sprintf("%T", s), sub: s})
	return r.nextID
}

// Unsubscribe removes the registration and reports whether it existed.
func (r *Registry) Unsubscribe(id Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.subs {
		if reg.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// notifyAll calls every subscriber in turn. Subscribers registered or removed during
// the call take effect from the next message.
func (r *Registry) notifyAll(ctx context.Context, msg Message) (failures int) {
	r.mu.Lock()
	snapshot := make([]registration, len(r.subs))
	copy(snapshot, r.subs)
	r.mu.Unlock()

	for _, reg := range snapshot {
		if err := notifyOne(ctx, reg.sub, msg); err != nil {
			failures++
			telemetry.Inc(telemetry.SubscriberFailures)
			telemetry.LoggerWithCorr(ctx).Warn("chat monitor: subscriber failed",
				slog.String("subscriber", reg.name),
				slog.String("message_id", msg.ID),
				slog.Any("err", err))
		}
	}
	return failures
}

func notifyOne(ctx context.Context, s Subscriber, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Notify(ctx, msg)
}

// isPointer limits identity checks to pointers. A comparable struct can still hold a
// func in an interface field, and == on it panics.
func isPointer(s Subscriber) bool {
	return s != nil && reflect.TypeOf(s).Kind() == reflect.Pointer
}
