package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatpilot/crypto"
)

// Tokens persists OAuth tokens per provider in oauth_tokens. When Sealer is set the
// access and refresh tokens are stored encrypted (encryption_version=1); plaintext rows
// (version 0) are still readable.
type Tokens struct {
	DB     *sql.DB
	Sealer crypto.Sealer
}

// NewTokens builds a token store, enabling encryption when ENCRYPTION_KEY is set.
func NewTokens(db *sql.DB) (*Tokens, error) {
	t := &Tokens{DB: db}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_tokens"))
		return t, nil
	}
	s, err := crypto.NewAESSealer(key, os.Getenv("ENCRYPTION_KEY_ID"))
	if err != nil {
		return nil, fmt.Errorf("init token encryption: %w", err)
	}
	t.Sealer = s
	return t, nil
}

// Save upserts tok for provider.
func (t *Tokens) Save(ctx context.Context, provider string, tok *oauth2.Token, scope string) error {
	if tok == nil {
		return fmt.Errorf("nil token for %s", provider)
	}
	access, refresh := tok.AccessToken, tok.RefreshToken
	version, keyID := 0, ""
	if t.Sealer != nil {
		var err error
		if access, err = t.Sealer.Seal(access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = t.Sealer.Seal(refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version, keyID = 1, t.Sealer.KeyID()
	}
	_, err := t.DB.ExecContext(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			encryption_version=EXCLUDED.encryption_version,
			encryption_key_id=EXCLUDED.encryption_key_id,
			updated_at=NOW()`,
		provider, access, refresh, tok.Expiry, strings.TrimSpace(scope), version, keyID)
	return err
}

// Load returns the stored token for provider, or nil when none is stored.
func (t *Tokens) Load(ctx context.Context, provider string) (*oauth2.Token, string, error) {
	var (
		access, refresh, scope sql.NullString
		expiry                 sql.NullTime
		version                int
	)
	err := t.DB.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		FROM oauth_tokens WHERE provider=$1`, provider).Scan(&access, &refresh, &expiry, &scope, &version)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	tok := &oauth2.Token{AccessToken: access.String, RefreshToken: refresh.String, TokenType: "Bearer"}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	if version == 1 {
		if t.Sealer == nil {
			return nil, "", fmt.Errorf("token for %s is encrypted but ENCRYPTION_KEY is not configured", provider)
		}
		if tok.AccessToken, err = t.Sealer.Open(tok.AccessToken); err != nil {
			return nil, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = t.Sealer.Open(tok.RefreshToken); err != nil {
			return nil, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, scope.String, nil
}

// ExpiresWithin reports whether tok expires inside window. Tokens without expiry never do.
func ExpiresWithin(tok *oauth2.Token, window time.Duration) bool {
	if tok == nil || tok.Expiry.IsZero() {
		return false
	}
	return time.Until(tok.Expiry) <= window
}
