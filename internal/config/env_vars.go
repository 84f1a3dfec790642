package config

import (
	"os"
	"strings"
)

const (
	appNameVar      = "APP_NAME"
	apiURLVar       = "API_URL"
	platformVar     = "PLATFORM"
	appSchemeVar    = "APP_SCHEME"
	callbackAddrVar = "CALLBACK_ADDR"
	logLevelVar     = "LOG_LEVEL"
	metricsAddrVar  = "METRICS_ADDR"
)

// Platforms understood by the presenter selection.
const (
	PlatformWeb     = "web"
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Ride Session")
}

// GetAPIURL returns the backend base URL without a trailing slash.
func (EnvVars) GetAPIURL() string {
	return strings.TrimRight(GetEnv(apiURLVar, "http://localhost:3000"), "/")
}

func (EnvVars) GetPlatform() string {
	return strings.ToLower(GetEnv(platformVar, PlatformWeb))
}

// GetAppScheme is the registered URL scheme the system browser returns to on mobile.
func (EnvVars) GetAppScheme() string {
	return GetEnv(appSchemeVar, "stravaauth://auth-callback")
}

// GetCallbackAddr is the loopback listen address used by the popup presenter.
func (EnvVars) GetCallbackAddr() string {
	return GetEnv(callbackAddrVar, "127.0.0.1:0")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetMetricsAddr returns the Prometheus listen address; empty disables the endpoint.
func (EnvVars) GetMetricsAddr() string {
	return GetEnv(metricsAddrVar, "")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
