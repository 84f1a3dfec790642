// Package refresh keeps the access token valid without user interaction.
package refresh

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-ride-session/backend"
	"github.com/jrsteele09/go-ride-session/internal/config"
	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/metrics"
	"github.com/jrsteele09/go-ride-session/token/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ErrSuperseded means the session changed while the refresh was in flight
// (logout or a newer login) and the result was discarded.
var ErrSuperseded = errors.New("session changed during refresh")

// Manager refreshes the access token. It never clears the session: a failed
// refresh leaves the stored credentials exactly as they were.
type Manager struct {
	backend  Backend
	sessions Sessions
	buffer   time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	recorder metrics.Recorder
	group    singleflight.Group
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithRecorder(recorder metrics.Recorder) Option {
	return func(m *Manager) {
		m.recorder = recorder
	}
}

// NewManager creates a new refresh manager
func NewManager(b Backend, sessions Sessions, cfg config.OAuthConfig, options ...Option) *Manager {
	m := &Manager{
		backend:  b,
		sessions: sessions,
		buffer:   cfg.GetRefreshBuffer(),
		timeout:  2 * cfg.GetRequestTimeout(),
		logger:   log.Logger,
		recorder: metrics.NopRecorder{},
	}
	for _, opt := range options {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "refresh").Logger()
	return m
}

// EnsureValid refreshes when the access token is missing or expires within the
// safety buffer. If that refresh fails while the current token has not yet
// expired, the current token is still good enough and true is returned.
func (m *Manager) EnsureValid(ctx context.Context) bool {
	creds := m.sessions.Snapshot(ctx).Credentials
	now := NowTimeFunc()
	if !creds.NeedsRefresh(now, m.buffer) {
		return true
	}
	if m.Refresh(ctx) {
		return true
	}
	return creds.AccessTokenValid(NowTimeFunc())
}

// Refresh reports whether a new access token was obtained and saved.
func (m *Manager) Refresh(ctx context.Context) bool {
	return m.RefreshErr(ctx) == nil
}

// RefreshErr is Refresh with the cause. Concurrent callers share one backend
// call and its result. The shared call outlives any single caller: a caller
// whose ctx ends stops waiting without cancelling it for the others.
func (m *Manager) RefreshErr(ctx context.Context) error {
	results := m.group.DoChan("refresh", func() (any, error) {
		shared, cancel := m.sharedContext(ctx)
		defer cancel()
		err := m.refresh(shared)
		m.recorder.RecordRefresh(err == nil)
		return nil, err
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-results:
		return res.Err
	}
}

// sharedContext keeps ctx's values but not its cancellation, bounded by the
// time two backend attempts may take.
func (m *Manager) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if m.timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, m.timeout)
}

func (m *Manager) refresh(ctx context.Context) error {
	state := m.sessions.Snapshot(ctx)
	if state.Credentials.RefreshToken == "" {
		m.logger.Info().Msg("no refresh token, re-authentication required")
		return errors.ErrNoRefreshToken
	}

	resp, err := m.backend.Refresh(ctx, state.Credentials.RefreshToken)
	if err != nil && isTransient(ctx, err) {
		m.logger.Warn().Err(err).Msg("refresh failed, retrying once")
		resp, err = m.backend.Refresh(ctx, state.Credentials.RefreshToken)
	}
	if err != nil {
		if backend.IsStatus(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			m.logger.Warn().Err(err).Msg("refresh token rejected")
			return errors.Wrapf(errors.ErrRefreshRejected, "[Manager Refresh] %v", err)
		}
		m.logger.Error().Err(err).Msg("refresh failed")
		return errors.Wrapf(err, "[Manager Refresh]")
	}

	next := state
	next.Credentials.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		next.Credentials.RefreshToken = resp.RefreshToken
	}
	next.Credentials.ExpiresAt = m.expiry(resp.AccessToken, resp.ExpiresIn)

	saved, err := m.sessions.CompareAndSave(ctx, state.Credentials, next)
	if err != nil {
		return errors.Wrapf(err, "[Manager Refresh] saving refreshed credentials")
	}
	if !saved {
		return ErrSuperseded
	}
	m.logger.Debug().Bool("rotated", resp.RefreshToken != "").Time("expires_at", next.Credentials.ExpiresAt).Msg("access token refreshed")
	return nil
}

// expiry is now + expiresIn. Without expires_in a JWT access token's own exp is
// used; otherwise the expiry stays unknown and the token counts as expired.
func (m *Manager) expiry(accessToken string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return NowTimeFunc().Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, err := jwt.ExpiresAt(accessToken); err == nil {
		return exp
	}
	m.logger.Warn().Msg("refresh response has no expires_in")
	return time.Time{}
}

// isTransient separates network blips from answers the backend gave on purpose.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		return false
	}
	return !errors.Is(err, errors.ErrMalformedPayload)
}
