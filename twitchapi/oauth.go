package twitchapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// DefaultChatScopes are requested for the bot account when none are configured.
const DefaultChatScopes = "chat:read chat:edit"

// OAuthConfig builds the code-grant config for the bot account.
func OAuthConfig(clientID, clientSecret, redirectURI, scopes string) (*oauth2.Config, error) {
	if clientID == "" || redirectURI == "" {
		return nil, errors.New("missing clientID or redirectURI")
	}
	if strings.TrimSpace(scopes) == "" {
		scopes = DefaultChatScopes
	}
	ep := twitch.Endpoint
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     ep,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(scopes, ",", " ")),
	}, nil
}

// Scope returns the granted scopes of tok as a space separated string. Twitch returns
// them as a JSON array.
func Scope(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Refresh exchanges tok's refresh token for a new token. The refresh token is kept
// when Twitch does not rotate it.
func Refresh(ctx context.Context, oc *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("missing refresh token")
	}
	// an already expired token forces the source to refresh
	old := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := oc.TokenSource(ctx, old).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// IRCPassword formats an access token for the IRC PASS command.
func IRCPassword(accessToken string) string {
	if accessToken == "" || strings.HasPrefix(accessToken, "oauth:") {
		return accessToken
	}
	return "oauth:" + accessToken
}
