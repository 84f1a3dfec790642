// Package backend talks to the ride app's own /api/auth endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/jrsteele09/go-ride-session/internal/errors"
	"github.com/jrsteele09/go-ride-session/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	PathAuthURL      = "/api/auth/strava/url"
	PathAuthStatus   = "/api/auth/status"
	PathCodeExchange = "/api/auth/strava/token"
	PathRefresh      = "/api/auth/refresh"

	maxBodyBytes = 1 << 20
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.StatusCode == c {
			return true
		}
	}
	return false
}

// Client is the HTTP client for the auth endpoints.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
	nowFunc    func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("[backend New] invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[backend New] base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     log.Logger,
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "backend").Logger()
	return c, nil
}

// BaseURL returns the API root every path is resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// HTTPClient returns the underlying transport client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// ResolveURL joins path (and optional query) onto the base URL.
func (c *Client) ResolveURL(path string) string {
	return strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.TrimLeft(path, "/")
}

// AuthURL asks the backend for the provider authorization URL.
func (c *Client) AuthURL(ctx context.Context, redirectURI, platform string) (string, error) {
	var resp oauthmodel.AuthURLResponse
	req := oauthmodel.AuthURLRequest{RedirectURI: redirectURI, Platform: platform}
	if err := c.postJSON(ctx, PathAuthURL, req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.URL) == "" {
		c.logger.Error().Str("endpoint", PathAuthURL).Msg("response has no url field")
		return "", errors.Wrapf(errors.ErrMissingAuthURL, "[Client AuthURL]")
	}
	return resp.URL, nil
}

// Status polls the server-side completion of the flow keyed by sessionID.
func (c *Client) Status(ctx context.Context, sessionID string) (*oauthmodel.StatusResponse, error) {
	q, err := query.Values(oauthmodel.StatusQuery{
		SessionID: sessionID,
		T:         c.nowFunc().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("[Client Status] encoding query: %w", err)
	}

	var resp oauthmodel.StatusResponse
	if err := c.do(ctx, http.MethodGet, PathAuthStatus+"?"+q.Encode(), PathAuthStatus, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangeCode trades an authorization code for a credential bundle.
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (*oauthmodel.CredentialBundle, error) {
	var bundle oauthmodel.CredentialBundle
	if err := c.postJSON(ctx, PathCodeExchange, oauthmodel.CodeExchangeRequest{Code: code, State: state}, &bundle); err != nil {
		return nil, err
	}
	if !bundle.HasCredentials() {
		c.logger.Error().Str("endpoint", PathCodeExchange).Msg("response has no access token")
		return nil, errors.Wrapf(errors.ErrMalformedPayload, "[Client ExchangeCode] no access token")
	}
	return &bundle, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	var resp oauthmodel.RefreshResponse
	if err := c.postJSON(ctx, PathRefresh, oauthmodel.RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		c.logger.Error().Str("endpoint", PathRefresh).Msg("response has no access_token")
		return nil, errors.Wrapf(errors.ErrMalformedPayload, "[Client Refresh] no access_token")
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, path, in, out)
}

func (c *Client) do(ctx context.Context, method, target, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[Client %s] encoding request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ResolveURL(target), body)
	if err != nil {
		return fmt.Errorf("[Client %s] building request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("request failed")
		return fmt.Errorf("[Client %s] %w", endpoint, err)
	}
	defer resp.Body.Close()

	return DecodeResponse(resp, endpoint, out, c.logger)
}

// DecodeResponse turns a non-2xx status into a *StatusError and decodes a JSON
// body into out otherwise. out may be nil.
func DecodeResponse(resp *http.Response, endpoint string, out any, logger zerolog.Logger) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		logger.Warn().Err(err).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("failed to read response body")
		return fmt.Errorf("[%s] reading body: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error().Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("unexpected status")
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil || (resp.StatusCode == http.StatusNoContent && len(bytes.TrimSpace(raw)) == 0) {
		return nil
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && !strings.HasSuffix(mediaType, "json") && mediaType != "text/plain" {
			logger.Error().Str("endpoint", endpoint).Str("content_type", mediaType).Msg("response is not json")
			return errors.Wrapf(errors.ErrMalformedPayload, "[%s] content type %s", endpoint, mediaType)
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		logger.Error().Err(err).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("failed to decode response")
		return errors.Wrapf(errors.ErrMalformedPayload, "[%s] %v", endpoint, err)
	}
	return nil
}
