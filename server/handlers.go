// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/chatpilot/chat"
	"github.com/onnwee/chatpilot/config"
	"github.com/onnwee/chatpilot/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Monitor is the control surface the API drives (*chat.Monitor).
type Monitor interface {
	Start(handle string) error
	Stop()
	Status() chat.Status
	Send(ctx context.Context, text string) bool
}

// Deps are the collaborators the handlers use. Only Config and Monitor are required.
type Deps struct {
	DB          *sql.DB
	Config      *config.Config
	Monitor     Monitor
	Pending     func() []chat.PendingSend
	Broadcaster *chat.Broadcaster
	Tokens      youtubeapi.TokenStore
	// ResolveVideo maps a YouTube video id to its live chat id.
	ResolveVideo func(ctx context.Context, videoID string) (string, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handlers{
		Deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// over the limit the flow fails rather than growing without bound
	if len(h.stateStore) >= maxOAuthStates {
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState reports whether state is known and unexpired, and removes it.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
