package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VALKEY_URL", "")
	t.Setenv("VALKEY_PASSWORD", "")
	t.Setenv("PARLEY_PUBLIC_URL", "")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, DefaultOAuthCallbackPath, cfg.OAuth.CallbackPath)
	assert.False(t, cfg.Store.Configured())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  host: 0.0.0.0
  port: 9999
  publicUrl: https://parley.example.com
store:
  url: valkey://valkey:6379
oauth:
  clientName: Parley Staging
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "Parley Staging", cfg.OAuth.ClientName)
	assert.True(t, cfg.Store.Configured())
	// File values merge over defaults rather than replacing the whole struct.
	assert.Equal(t, DefaultOAuthCallbackPath, cfg.OAuth.CallbackPath)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [not a map"), 0o644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := `
store:
  url: valkey://from-file:6379
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	t.Setenv("VALKEY_URL", "valkey://from-env:6379")
	t.Setenv("VALKEY_PASSWORD", "hunter2")
	t.Setenv("PARLEY_PUBLIC_URL", "https://env.example.com")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "valkey://from-env:6379", cfg.Store.URL)
	assert.Equal(t, "hunter2", cfg.Store.Password)
	assert.Equal(t, "https://env.example.com", cfg.Server.PublicURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "relative public url",
			mutate:  func(c *Config) { c.Server.PublicURL = "parley.example.com" },
			wantErr: true,
		},
		{
			name:    "callback path without leading slash",
			mutate:  func(c *Config) { c.OAuth.CallbackPath = "oauth/callback" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRedirectURI(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.PublicURL = "https://parley.example.com"
	assert.Equal(t, "https://parley.example.com/mcp/oauth/callback", cfg.RedirectURI())
}
