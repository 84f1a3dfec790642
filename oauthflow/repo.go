package oauthflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jrsteele09/go-ride-session/oauthmodel"
	"github.com/jrsteele09/go-ride-session/session"
)

// Backend is the part of the auth API a login flow talks to.
type Backend interface {
	AuthURL(ctx context.Context, redirectURI, platform string) (string, error)
	Status(ctx context.Context, sessionID string) (*oauthmodel.StatusResponse, error)
	ExchangeCode(ctx context.Context, code, state string) (*oauthmodel.CredentialBundle, error)
}

// Sessions is where a flow commits its result.
type Sessions interface {
	BeginFlow(ctx context.Context) (string, error)
	EndFlow(ctx context.Context, token string)
	FlowToken(ctx context.Context) (string, error)
	Save(ctx context.Context, next session.State) error
	Now() time.Time
}

// ProfileVerifier turns an id_token into a profile blob.
type ProfileVerifier interface {
	Profile(ctx context.Context, rawIDToken string) (json.RawMessage, error)
}

// Presenter shows the authorization URL to the user on one platform.
type Presenter interface {
	// Platform is sent to the backend when asking for the authorization URL.
	Platform() string

	// RedirectURI is where the provider sends the browser back to.
	RedirectURI(ctx context.Context) (string, error)

	// Present opens authURL and returns the surface it is shown on. It fails
	// with errors.ErrPopupBlocked when nothing could be opened.
	Present(ctx context.Context, authURL string) (Surface, error)
}

// Surface is one open popup or browser session.
type Surface interface {
	// Messages delivers payloads posted back by the surface.
	Messages() <-chan oauthmodel.ExchangePayload

	// Closed is closed once the user dismisses the surface.
	Closed() <-chan struct{}

	// Close dismisses the surface. Safe to call more than once.
	Close() error
}
