package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"parley/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/parley"
	configFileName = "config.yaml"
)

// Config is the top-level parley configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	OAuth  OAuthConfig  `yaml:"oauth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is the externally reachable base URL of this service. It is
	// used to build the OAuth redirect URI, so it must match what the
	// authorization server will redirect back to.
	PublicURL string `yaml:"publicUrl"`
}

// StoreConfig holds the connection settings for the valkey backend. When URL
// is empty the MCP connection feature is considered unconfigured and the
// /mcp endpoints fail fast.
type StoreConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// OAuthConfig controls the OAuth client behavior.
type OAuthConfig struct {
	// CallbackPath is the path component of the redirect URI.
	CallbackPath string `yaml:"callbackPath"`
	// ClientName is the client_name sent during dynamic registration.
	ClientName string `yaml:"clientName"`
	// ClientURI is the client_uri sent during dynamic registration.
	ClientURI string `yaml:"clientUri"`
}

// Configured reports whether the connection store backend is set up.
func (s StoreConfig) Configured() bool {
	return s.URL != ""
}

// RedirectURI builds the absolute OAuth redirect URI from the public URL and
// the callback path.
func (c Config) RedirectURI() string {
	return c.Server.PublicURL + c.OAuth.CallbackPath
}

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory. A missing
// config.yaml is not an error; defaults plus environment overrides apply.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			applyEnv(&config)
			return config, config.Validate()
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)

	applyEnv(&config)
	return config, config.Validate()
}

// applyEnv overlays environment variables on top of file-provided values.
// Environment wins so that deployments can keep secrets out of config.yaml.
func applyEnv(config *Config) {
	if v := os.Getenv("VALKEY_URL"); v != "" {
		config.Store.URL = v
	}
	if v := os.Getenv("VALKEY_PASSWORD"); v != "" {
		config.Store.Password = v
	}
	if v := os.Getenv("PARLEY_PUBLIC_URL"); v != "" {
		config.Server.PublicURL = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("publicUrl %q is not an absolute URL", c.Server.PublicURL)
		}
	}
	if c.OAuth.CallbackPath == "" || c.OAuth.CallbackPath[0] != '/' {
		return fmt.Errorf("callbackPath %q must start with /", c.OAuth.CallbackPath)
	}
	if c.Store.URL != "" {
		if _, err := url.Parse(c.Store.URL); err != nil {
			return fmt.Errorf("store url %q is not a valid URL: %w", c.Store.URL, err)
		}
	}
	return nil
}
