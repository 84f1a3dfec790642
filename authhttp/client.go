// Package authhttp sends requests to the ride API with the session's bearer
// token, refreshing once when the API says the token is no longer good.
package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/go-ride-session/backend"
	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Refresher keeps the session's access token usable.
type Refresher interface {
	EnsureValid(ctx context.Context) bool
	Refresh(ctx context.Context) bool
}

// TokenProvider hands out the current session token.
type TokenProvider interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// UnauthorizedError is returned when the API still refuses the request after
// the one permitted refresh.
type UnauthorizedError struct {
	Method     string
	URL        string
	StatusCode int
	Refreshed  bool
}

func (e *UnauthorizedError) Error() string {
	if e.Refreshed {
		return fmt.Sprintf("%s %s: status %d after refreshing credentials", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d and credentials could not be refreshed", e.Method, e.URL, e.StatusCode)
}

func (e *UnauthorizedError) Unwrap() error {
	return errors.ErrUnauthorized
}

type Client struct {
	api       *backend.Client
	tokens    TokenProvider
	refresher Refresher
	logger    zerolog.Logger
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(api *backend.Client, tokens TokenProvider, refresher Refresher, options ...Option) *Client {
	c := &Client{
		api:       api,
		tokens:    tokens,
		refresher: refresher,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "authhttp").Logger()
	return c
}

// Do sends req with the current access token. A 401 triggers exactly one
// refresh and one retry; the caller owns the returned response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := rewindable(req); err != nil {
		return nil, err
	}

	c.refresher.EnsureValid(ctx)
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	unauthorized := &UnauthorizedError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	c.logger.Info().Str("url", unauthorized.URL).Msg("request unauthorized, refreshing credentials")
	if !c.refresher.Refresh(ctx) {
		return nil, unauthorized
	}
	unauthorized.Refreshed = true

	retry, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if retry.StatusCode == http.StatusUnauthorized {
		discard(retry)
		c.logger.Warn().Str("url", unauthorized.URL).Msg("request still unauthorized after refresh")
		return nil, unauthorized
	}
	return retry, nil
}

// GetJSON fetches path from the API and decodes the JSON answer into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// SendJSON sends in as a JSON body (if non-nil) and decodes the answer into
// out (if non-nil). Statuses other than 2xx and 401 come back as
// *backend.StatusError.
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[Client SendJSON] encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.api.ResolveURL(path), body)
	if err != nil {
		return fmt.Errorf("[Client SendJSON] building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return backend.DecodeResponse(resp, path, out, c.logger)
}

func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("[Client send] rewinding body: %w", err)
		}
		attempt.Body = body
	}

	if token, err := c.tokens.TokenSource(ctx).Token(); err == nil {
		token.SetAuthHeader(attempt)
	} else {
		c.logger.Debug().Err(err).Msg("sending request without credentials")
	}

	resp, err := c.api.HTTPClient().Do(attempt)
	if err != nil {
		return nil, fmt.Errorf("[Client send] %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

// rewindable makes sure req's body can be sent twice.
func rewindable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("[rewindable] reading body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.Body, _ = req.GetBody()
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
