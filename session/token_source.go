package session

import (
	"context"

	"github.com/jrsteele09/go-ride-session/internal/errors"
	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

// TokenSource exposes the cached credentials as an oauth2.TokenSource. It does
// not refresh; pair it with token/refresh for that.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, m: m}
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	creds := ts.m.Credentials(ts.ctx)
	if creds.AccessToken == "" {
		return nil, errors.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
	}, nil
}
