package config

const (
	// DefaultOAuthCallbackPath is the default path for OAuth callbacks.
	DefaultOAuthCallbackPath = "/mcp/oauth/callback"

	// DefaultClientName is the client_name sent during dynamic client
	// registration when the config does not override it.
	DefaultClientName = "Parley"

	// DefaultPublicURL is the base URL used for the redirect URI in local
	// development.
	DefaultPublicURL = "http://localhost:8090"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8090,
			PublicURL: DefaultPublicURL,
		},
		OAuth: OAuthConfig{
			CallbackPath: DefaultOAuthCallbackPath,
			ClientName:   DefaultClientName,
			ClientURI:    DefaultPublicURL,
		},
	}
}
