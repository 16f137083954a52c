package twitchapi

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/twitch"
)

// AppTokenSource returns a cached Twitch app access (client credentials) token source.
// App tokens work for Helix reads only; IRC chat needs a user token with chat:read/chat:edit.
// tokenURL overrides the Twitch endpoint (tests); hc may be nil.
func AppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string, hc *http.Client) (oauth2.TokenSource, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	if tokenURL == "" {
		tokenURL = twitch.Endpoint.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	// clientcredentials already reuses the token until shortly before expiry
	return cc.TokenSource(ctx), nil
}
