// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API for the
// live chat monitor: reading and posting live chat messages and finding the active live
// chat. Tokens are persisted via the provided TokenStore so they can be refreshed and
// reused across restarts.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatpilot/config"
)

// Provider is the oauth_tokens key for YouTube.
const Provider = "youtube"

// ErrNoToken is returned when no YouTube token has been stored yet.
var ErrNoToken = errors.New("no youtube token stored")

// TokenStore persists OAuth tokens by provider.
type TokenStore interface {
	Load(ctx context.Context, provider string) (*oauth2.Token, string, error)
	Save(ctx context.Context, provider string, tok *oauth2.Token, scope string) error
}

// ClientFunc returns an authorized YouTube service.
type ClientFunc func(ctx context.Context) (*yt.Service, error)

// Service holds the OAuth config and builds authorized API clients.
type Service struct {
	cfg   *config.Config
	store TokenStore
	oauth *oauth2.Config

	// Options are appended when building API clients (endpoint overrides in tests).
	Options     []option.ClientOption
	HTTPTimeout time.Duration
}

// New builds a Service. YT_SCOPES may be comma or space separated.
func New(cfg *config.Config, store TokenStore) *Service {
	scopes := []string{yt.YoutubeForceSslScope}
	if f := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(f) > 0 {
		scopes = f
	}
	oc := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, store: store, oauth: oc, HTTPTimeout: 15 * time.Second}
}

// OAuthConfig exposes the underlying OAuth config.
func (s *Service) OAuthConfig() *oauth2.Config { return s.oauth }

// AuthCodeURL returns the consent URL; offline access so a refresh token is issued.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an auth code for a token and stores it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, Provider, tok, strings.Join(s.oauth.Scopes, " ")); err != nil {
		return tok, fmt.Errorf("store youtube token: %w", err)
	}
	return tok, nil
}

// Refresh exchanges refreshToken for a new token without touching the store.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if s.cfg.YTClientID == "" {
		return nil, errors.New("youtube client id not configured")
	}
	old := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := s.oauth.TokenSource(ctx, old).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// token loads the stored token, refreshing and saving it when it expires within two minutes.
func (s *Service) token(ctx context.Context) (*oauth2.Token, error) {
	tok, scope, err := s.store.Load(ctx, Provider)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	if tok.Expiry.IsZero() || time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return tok, err
	}
	if err := s.store.Save(ctx, Provider, newTok, scope); err != nil {
		return newTok, fmt.Errorf("store refreshed youtube token: %w", err)
	}
	return newTok, nil
}

// Client returns an authorized YouTube service.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	hc := s.oauth.Client(ctx, tok)
	hc.Timeout = s.HTTPTimeout
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, s.Options...)
	return yt.NewService(ctx, opts...)
}

// StaticClient returns a ClientFunc that always yields svc.
func StaticClient(svc *yt.Service) ClientFunc {
	return func(context.Context) (*yt.Service, error) { return svc, nil }
}
