package config

type Config interface {
	EnvConfig
	OAuthConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIURL() string
	GetPlatform() string
	GetAppScheme() string
	GetCallbackAddr() string
	GetLogLevel() string
	GetMetricsAddr() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Store
}

func New() Config {
	return mainConfig{}
}
