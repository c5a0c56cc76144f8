package config

type OAuthConfig interface {
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetIdentityAPIKey() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetGoogleClientID() string {
	return GetEnv("GOOGLE_CLIENT_ID", "")
}

func (OAuth) GetGoogleClientSecret() string {
	return GetEnv("GOOGLE_CLIENT_SECRET", "")
}

// GetIdentityAPIKey returns the identity-platform project API key used for
// the federated credential exchange.
func (OAuth) GetIdentityAPIKey() string {
	return GetEnv("IDENTITY_API_KEY", "")
}
