package oauthmodel

// AuthURLRequest is the body of POST /api/auth/strava/url.
type AuthURLRequest struct {
	RedirectURI string `json:"redirect_uri"`
	Platform    string `json:"platform"`
}

// AuthURLResponse is the reply to POST /api/auth/strava/url.
type AuthURLResponse struct {
	URL string `json:"url"`
}

// StatusQuery holds the query parameters of GET /api/auth/status.
// T is a cache buster.
type StatusQuery struct {
	SessionID string `url:"session_id,omitempty"`
	T         int64  `url:"_t"`
}

// StatusResponse is the reply to GET /api/auth/status. Once the provider
// redirect has landed server-side it carries the credential bundle inline.
type StatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	CredentialBundle
}

// CodeExchangeRequest is the body of POST /api/auth/strava/token.
type CodeExchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is the reply to POST /api/auth/refresh.
type RefreshResponse struct {
	// AccessToken is the new short-lived bearer token.
	AccessToken string `json:"access_token"`

	// RefreshToken is only present when the backend rotates it.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the lifetime of AccessToken in seconds.
	ExpiresIn int `json:"expires_in"`
}
