package config

type RelayConfig interface {
	GetRelayEndpoint() string
}

type Relay struct{}

var _ RelayConfig = Relay{}

// GetRelayEndpoint returns the background context's receiver endpoint the
// external sign-in context relays to.
func (Relay) GetRelayEndpoint() string {
	return GetEnv("RELAY_ENDPOINT", "http://127.0.0.1:8737/auth")
}
