// Package oauthflow drives one login gesture from "ask the backend for an
// authorization URL" to "credentials committed to the session".
package oauthflow

import (
	"context"
	"net/url"
	"time"

	"github.com/jrsteele09/go-ride-session/internal/config"
	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/metrics"
	"github.com/jrsteele09/go-ride-session/oauthmodel"
	"github.com/jrsteele09/go-ride-session/session"
	"github.com/jrsteele09/go-ride-session/token/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Controller runs login flows. It holds no per-flow state, so several flows
// may run at once; the correlation token keeps their polls apart.
type Controller struct {
	backend   Backend
	sessions  Sessions
	presenter Presenter

	verifier ProfileVerifier
	recorder metrics.Recorder
	observer func(State)
	logger   zerolog.Logger

	tick           time.Duration
	pollEvery      int
	maxTicks       int
	closedGrace    time.Duration
	requestTimeout time.Duration
}

type Option func(*Controller)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithRecorder(recorder metrics.Recorder) Option {
	return func(c *Controller) {
		c.recorder = recorder
	}
}

// WithProfileVerifier fills in a missing profile from a bundle's id_token.
func WithProfileVerifier(v ProfileVerifier) Option {
	return func(c *Controller) {
		c.verifier = v
	}
}

// WithStateObserver is called on every state transition of every flow.
func WithStateObserver(fn func(State)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

func NewController(b Backend, sessions Sessions, presenter Presenter, cfg config.OAuthConfig, options ...Option) *Controller {
	c := &Controller{
		backend:        b,
		sessions:       sessions,
		presenter:      presenter,
		recorder:       metrics.NopRecorder{},
		logger:         log.Logger,
		tick:           cfg.GetTickInterval(),
		pollEvery:      max(cfg.GetPollEveryTicks(), 1),
		maxTicks:       max(cfg.GetMaxPollTicks(), 1),
		closedGrace:    cfg.GetClosedGracePeriod(),
		requestTimeout: cfg.GetRequestTimeout(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "oauthflow").Str("platform", presenter.Platform()).Logger()
	return c
}

// Login reports whether the user ended up logged in.
func (c *Controller) Login(ctx context.Context) bool {
	return c.LoginErr(ctx) == nil
}

// LoginErr is Login with the reason for failure.
func (c *Controller) LoginErr(ctx context.Context) error {
	f := c.newFlow(StateIdle)
	err := c.login(ctx, f)
	c.finish(f, err)
	return err
}

func (c *Controller) login(ctx context.Context, f *flow) error {
	if err := f.to(StateURLRequested); err != nil {
		return err
	}

	authURL, err := c.requestAuthURL(ctx)
	if err != nil {
		return err
	}

	token, err := c.sessions.BeginFlow(ctx)
	if err != nil {
		return &StorageError{Cause: err}
	}
	defer c.sessions.EndFlow(context.WithoutCancel(ctx), token)

	presentURL, err := withState(authURL, token)
	if err != nil {
		return err
	}

	if err := f.to(StateAwaitingUser); err != nil {
		return err
	}
	surface, err := c.presenter.Present(ctx, presentURL)
	if err != nil {
		if !errors.Is(err, errors.ErrPopupBlocked) {
			err = errors.Wrapf(errors.ErrPopupBlocked, "[Controller Login] %v", err)
		}
		return err
	}

	payload, err := c.await(ctx, surface, token)
	if closeErr := surface.Close(); closeErr != nil {
		c.logger.Debug().Err(closeErr).Msg("closing authentication surface")
	}
	if err != nil {
		return err
	}
	return c.commit(ctx, f, payload)
}

// HandleRedirect completes a login from a redirect URL that arrived outside a
// running Login, such as a deep link that cold-started the app. A redirect
// carrying a state must match the pending attempt's correlation token.
func (c *Controller) HandleRedirect(ctx context.Context, rawURL string) bool {
	f := c.newFlow(StateAwaitingUser)
	err := c.handleRedirect(ctx, f, rawURL)
	c.finish(f, err)
	return err == nil
}

func (c *Controller) handleRedirect(ctx context.Context, f *flow, rawURL string) error {
	payload, err := oauthmodel.ParseRedirectURL(rawURL)
	if err != nil {
		c.logger.Warn().Err(err).Msg("redirect carries no auth data")
		return errors.Wrapf(errors.ErrMalformedPayload, "[Controller HandleRedirect] %v", err)
	}
	if payload.State == "" {
		return c.commit(ctx, f, payload)
	}

	pending, err := c.sessions.FlowToken(ctx)
	if err != nil {
		return &StorageError{Cause: err}
	}
	if pending != payload.State {
		c.logger.Warn().Bool("pending", pending != "").Msg("redirect state does not match the pending login")
		return errors.Wrapf(errors.ErrMalformedPayload, "[Controller HandleRedirect] state does not match the pending login")
	}
	defer c.sessions.EndFlow(context.WithoutCancel(ctx), payload.State)
	return c.commit(ctx, f, payload)
}

func (c *Controller) newFlow(start State) *flow {
	return &flow{state: start, observer: func(s State) {
		c.logger.Debug().Str("state", s.String()).Msg("login flow transition")
		if c.observer != nil {
			c.observer(s)
		}
	}}
}

func (c *Controller) finish(f *flow, err error) {
	outcome := outcomeOf(err)
	if err != nil {
		if !f.state.Terminal() {
			_ = f.to(StateFailed)
		}
		c.logger.Warn().Err(err).Str("outcome", outcome).Msg("login failed")
	} else {
		c.logger.Info().Msg("login succeeded")
	}
	c.recorder.RecordLogin(outcome)
}

func (c *Controller) requestAuthURL(ctx context.Context) (string, error) {
	redirectURI, err := c.presenter.RedirectURI(ctx)
	if err != nil {
		return "", errors.Wrapf(errors.ErrPopupBlocked, "[Controller requestAuthURL] %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	authURL, err := c.backend.AuthURL(reqCtx, redirectURI, c.presenter.Platform())
	if err != nil {
		return "", &URLError{Cause: err}
	}
	return authURL, nil
}

// commit turns the winning payload into session state.
func (c *Controller) commit(ctx context.Context, f *flow, p oauthmodel.ExchangePayload) error {
	var bundle *oauthmodel.CredentialBundle

	switch p.Kind() {
	case oauthmodel.PayloadError:
		return errors.Wrapf(errors.ErrProviderDenied, "[Controller commit] %s %s", p.Error, p.ErrorDescription)

	case oauthmodel.PayloadCredentials:
		bundle = p.Credentials

	case oauthmodel.PayloadCode:
		if err := f.to(StateExchanging); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		exchanged, err := c.backend.ExchangeCode(reqCtx, p.Code, p.State)
		if err != nil {
			return &ExchangeError{Cause: err}
		}
		bundle = exchanged

	default:
		return errors.Wrapf(errors.ErrMalformedPayload, "[Controller commit]")
	}

	if err := c.sessions.Save(ctx, c.stateFromBundle(ctx, bundle)); err != nil {
		return &StorageError{Cause: err}
	}
	return f.to(StateCommitted)
}

func (c *Controller) stateFromBundle(ctx context.Context, b *oauthmodel.CredentialBundle) session.State {
	accessToken := b.Token()
	expiresAt := b.Expiry(c.sessions.Now())
	if expiresAt.IsZero() {
		// single-JWT backends only say when the token expires inside the token
		if exp, err := jwt.ExpiresAt(accessToken); err == nil {
			expiresAt = exp
		} else {
			c.logger.Warn().Msg("credentials carry no expiry")
		}
	}

	user := session.Profile(b.User)
	if len(user) == 0 && b.IDToken != "" && c.verifier != nil {
		profile, err := c.verifier.Profile(ctx, b.IDToken)
		if err != nil {
			c.logger.Warn().Err(err).Msg("ignoring unverifiable id_token")
		} else {
			user = session.Profile(profile)
		}
	}

	return session.State{
		Credentials: session.Credentials{
			AccessToken:  accessToken,
			RefreshToken: b.RefreshToken,
			ExpiresAt:    expiresAt,
		},
		User: user,
	}
}

// withState sets the correlation token as the state parameter.
func withState(authURL, token string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", errors.Wrapf(errors.ErrMissingAuthURL, "[withState] %v", err)
	}
	q := u.Query()
	q.Set("state", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeError is a failed code-for-token exchange.
type ExchangeError struct {
	Cause error
}

func (e *ExchangeError) Error() string { return "code exchange failed: " + e.Cause.Error() }
func (e *ExchangeError) Unwrap() error { return e.Cause }

// URLError means no authorization URL could be obtained.
type URLError struct {
	Cause error
}

func (e *URLError) Error() string { return "fetching authorization url failed: " + e.Cause.Error() }
func (e *URLError) Unwrap() error { return e.Cause }

// StorageError means the session store refused the flow's writes.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string { return "session storage failed: " + e.Cause.Error() }
func (e *StorageError) Unwrap() error { return e.Cause }

func outcomeOf(err error) string {
	var urlErr *URLError
	var exchangeErr *ExchangeError
	var storageErr *StorageError

	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &urlErr):
		return metrics.OutcomeURLFailed
	case errors.As(err, &exchangeErr):
		return metrics.OutcomeExchange
	case errors.As(err, &storageErr):
		return metrics.OutcomeStorage
	case errors.Is(err, errors.ErrPopupBlocked):
		return metrics.OutcomeBlocked
	case errors.Is(err, errors.ErrFlowTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, errors.ErrFlowAbandoned):
		return metrics.OutcomeAbandoned
	case errors.Is(err, errors.ErrProviderDenied):
		return metrics.OutcomeDenied
	case errors.Is(err, errors.ErrMalformedPayload):
		return metrics.OutcomeMalformed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	}
	return metrics.OutcomeInternal
}
