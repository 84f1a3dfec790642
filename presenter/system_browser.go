package presenter

import (
	"context"

	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/oauthflow"
	"github.com/jrsteele09/go-ride-session/oauthmodel"
	"github.com/rs/zerolog"
)

// SystemBrowser presents the authorization URL in the device browser. The
// host app routes the app-scheme redirect into HandleRedirect and reports a
// dismissed browser through Cancel.
type SystemBrowser struct {
	platform    string
	redirectURI string
	opener      Opener
	logger      zerolog.Logger
	surfaces    *registry
}

func NewSystemBrowser(platform, redirectURI string, opts ...Option) *SystemBrowser {
	o := newOptions(opts)
	return &SystemBrowser{
		platform:    platform,
		redirectURI: redirectURI,
		opener:      o.opener,
		logger:      o.logger.With().Str("component", "presenter").Str("presenter", "system_browser").Logger(),
		surfaces:    newRegistry(),
	}
}

func (b *SystemBrowser) Platform() string {
	return b.platform
}

func (b *SystemBrowser) RedirectURI(ctx context.Context) (string, error) {
	return b.redirectURI, nil
}

func (b *SystemBrowser) Present(ctx context.Context, authURL string) (oauthflow.Surface, error) {
	s := b.surfaces.open(stateOf(authURL))
	if err := b.opener(authURL); err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(errors.ErrPopupBlocked, "[SystemBrowser Present] %v", err)
	}
	return s, nil
}

// HandleRedirect passes an app-scheme redirect to the login waiting for it.
// It returns false when no running login took it, in which case the caller
// should fall back to oauthflow.Controller.HandleRedirect.
func (b *SystemBrowser) HandleRedirect(rawURL string) bool {
	payload, err := oauthmodel.ParseRedirectURL(rawURL)
	if err != nil {
		b.logger.Warn().Err(err).Msg("redirect carries no auth data")
		return false
	}
	s := b.surfaces.lookup(payload.State)
	if s == nil {
		return false
	}
	return s.deliver(payload)
}

// Cancel reports that the user dismissed the browser.
func (b *SystemBrowser) Cancel() {
	if s := b.surfaces.lookup(""); s != nil {
		s.markClosed()
	}
}

func (b *SystemBrowser) Shutdown(ctx context.Context) error {
	for _, s := range b.surfaces.all() {
		s.markClosed()
	}
	return nil
}
