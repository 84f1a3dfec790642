package config

import "time"

type OAuthConfig interface {
	GetTickInterval() time.Duration
	GetPollEveryTicks() int
	GetMaxPollTicks() int
	GetClosedGracePeriod() time.Duration
	GetRefreshBuffer() time.Duration
	GetRequestTimeout() time.Duration
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetTickInterval() time.Duration {
	return time.Second
}

func (OAuth) GetPollEveryTicks() int {
	return 5
}

func (OAuth) GetMaxPollTicks() int {
	return 240 // 4 minutes at one tick per second
}

// GetClosedGracePeriod is how long to wait after the browser surface closes
// before the final status check.
func (OAuth) GetClosedGracePeriod() time.Duration {
	return time.Second
}

func (OAuth) GetRefreshBuffer() time.Duration {
	return 5 * time.Minute
}

func (OAuth) GetRequestTimeout() time.Duration {
	return 15 * time.Second
}

// GetOIDCIssuer enables id_token verification when set.
func (OAuth) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (OAuth) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}
