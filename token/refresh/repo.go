package refresh

import (
	"context"

	"github.com/jrsteele09/go-ride-session/oauthmodel"
	"github.com/jrsteele09/go-ride-session/session"
)

// Backend is the refresh endpoint of the auth API.
type Backend interface {
	Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error)
}

// Sessions is the part of the session manager a refresh reads and commits through.
type Sessions interface {
	Snapshot(ctx context.Context) session.State
	CompareAndSave(ctx context.Context, expected session.Credentials, next session.State) (bool, error)
}
