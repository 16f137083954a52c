// Package oauth provides generic token refresh scheduling for providers whose
// tokens are persisted in the oauth_tokens table. It performs jittered checks
// and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/oauth2"
)

// Store loads and saves tokens by provider (db.Tokens).
type Store interface {
	Load(ctx context.Context, provider string) (*oauth2.Token, string, error)
	Save(ctx context.Context, provider string, tok *oauth2.Token, scope string) error
}

// RefreshFunc performs the provider-specific refresh.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// StartRefresher launches a goroutine that periodically checks the stored token for
// provider and refreshes it once its remaining lifetime is within window.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// spread instances out
	initialJitter := jitter(interval / 2)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if _, err := RefreshIfDue(ctx, store, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
			}
			// ±20% per iteration
			next := interval - interval/5 + jitter(2*interval/5)
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
}

// RefreshIfDue refreshes and saves provider's token when it expires within window.
// It reports whether a refresh happened. Missing tokens and tokens without a refresh
// token are skipped.
func RefreshIfDue(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	tok, scope, err := store.Load(ctx, provider)
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	if tok == nil || tok.RefreshToken == "" {
		return false, nil
	}
	if !tok.Expiry.IsZero() && time.Until(tok.Expiry) > window {
		return false, nil
	}
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	newTok, err := fn(rctx, tok.RefreshToken)
	if err != nil {
		return false, err
	}
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = tok.RefreshToken
	}
	if err := store.Save(ctx, provider, newTok, scope); err != nil {
		return false, fmt.Errorf("persist token: %w", err)
	}
	slog.Info("token refreshed", slog.String("provider", provider), slog.Time("expires_at", newTok.Expiry))
	return true, nil
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}
