package oauthmodel

// ResponseModeType denotes where the redirect carries its parameters.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Example: stravaauth://auth-callback?code=ABC123&state=xyz
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	// Example: http://127.0.0.1:5555/callback#access_token=AT&expires_in=3600
	FragmentResponseMode ResponseModeType = "fragment"
)

// Message types a popup window posts back to its opener.
const (
	MessageAuthComplete       = "auth-complete"
	MessageStravaAuthComplete = "strava-auth-complete"
)

// PayloadKind classifies an exchange payload.
type PayloadKind int

const (
	PayloadInvalid PayloadKind = iota
	PayloadCredentials
	PayloadCode
	PayloadError
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadCredentials:
		return "credentials"
	case PayloadCode:
		return "code"
	case PayloadError:
		return "error"
	}
	return "invalid"
}
