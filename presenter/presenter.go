// Package presenter shows authorization URLs to the user and carries the
// provider's answer back to the login flow.
package presenter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-ride-session/internal/config"
	"github.com/jrsteele09/go-ride-session/oauthflow"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Opener opens a URL in something the user can see.
type Opener func(url string) error

// Presenter is an oauthflow.Presenter that owns resources needing release.
type Presenter interface {
	oauthflow.Presenter
	Shutdown(ctx context.Context) error
}

var (
	_ Presenter = (*Popup)(nil)
	_ Presenter = (*SystemBrowser)(nil)
)

type options struct {
	opener  Opener
	logger  zerolog.Logger
	appName string
	env     string
}

type Option func(*options)

// WithOpener replaces the system browser, mainly for tests.
func WithOpener(opener Opener) Option {
	return func(o *options) {
		o.opener = opener
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{
		opener:  browser.OpenURL,
		logger:  log.Logger,
		appName: "Ride Session",
		env:     "PROD",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ForPlatform picks the presenter for the configured platform.
func ForPlatform(cfg config.EnvConfig, opts ...Option) (Presenter, error) {
	switch platform := cfg.GetPlatform(); platform {
	case config.PlatformWeb:
		return NewPopup(cfg, opts...)
	case config.PlatformIOS, config.PlatformAndroid:
		return NewSystemBrowser(platform, cfg.GetAppScheme(), opts...), nil
	default:
		return nil, fmt.Errorf("[ForPlatform] unsupported platform %q", platform)
	}
}

// stateOf returns the correlation token carried by an authorization URL.
func stateOf(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}
