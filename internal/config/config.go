package config

type Config interface {
	EnvConfig
	OAuthConfig
	StorageConfig
	RelayConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Storage
	Relay
}

func New() Config {
	return mainConfig{}
}
