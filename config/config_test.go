package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfigFile(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, StartupModeStrict, cfg.StartupMode)
	assert.Equal(t, VariantFull, cfg.Startup.Variant)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*24*time.Hour, cfg.HSTS.MaxAge)
	assert.Equal(t, "__RequestVerificationToken", cfg.Antiforgery.FieldName)
	assert.Equal(t, "obuoy", cfg.MongoDB.Database)
	assert.Empty(t, cfg.GoogleAPIKey)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
environment: development
GoogleApiKey: file-key
MongoDBConnection: mongodb://db.example.com:27017
startup:
  variant: minimal
server:
  port: 9000
  https_port: 9443
  cert_file: server.crt
  key_file: server.key
http_clients:
  ndbc:
    timeout: 5s
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "file-key", cfg.GoogleAPIKey)
	assert.Equal(t, "mongodb://db.example.com:27017", cfg.MongoDBConnection)
	assert.Equal(t, VariantMinimal, cfg.Startup.Variant)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.TLSEnabled())
	assert.Equal(t, 5*time.Second, cfg.HTTPClient("ndbc").Timeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClient("unknown").Timeout)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OBUOY_ENVIRONMENT", "Staging")
	t.Setenv("OBUOY_SERVER_PORT", "8181")
	t.Setenv("OBUOY_GOOGLEAPIKEY", "prefixed-key")

	cfg, err := Load(viper.New(), writeConfigFile(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "prefixed-key", cfg.GoogleAPIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad environment", "environment: moon\n"},
		{"bad variant", "startup:\n  variant: tiny\n"},
		{"bad startup mode", "startup_mode: lazy\n"},
		{"bad mongo uri", "mongodb:\n  uri: postgres://x\n"},
		{"bad connection value", "MongoDBConnection: localhost\n"},
		{"port out of range", "server:\n  port: 70000\n"},
		{"same ports", "server:\n  port: 8443\n  https_port: 8443\n"},
		{"cert without key", "server:\n  cert_file: a.crt\n"},
		{"autocert without domains", "server:\n  autocert:\n    enabled: true\n"},
		{"bad proxy network", "server:\n  trusted_proxy_networks: [\"not-a-net\"]\n"},
		{"short signing key", "antiforgery:\n  signing_key: short\n"},
		{"zero rate limit", "rate_limit:\n  requests_per_second: 0\n"},
		{"bad secret provider", "secrets:\n  provider: gcp\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfigFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseEnvironment(t *testing.T) {
	tests := map[string]Environment{
		"":            EnvProduction,
		"Development": EnvDevelopment,
		"dev":         EnvDevelopment,
		"STAGING":     EnvStaging,
		" prod ":      EnvProduction,
	}
	for in, want := range tests {
		got, err := ParseEnvironment(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEnvironment("qa")
	assert.Error(t, err)
}

func TestEnvironmentFromLookup(t *testing.T) {
	lookup := func(env map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}
	}

	env, err := EnvironmentFromLookup(lookup(map[string]string{"ENVIRONMENT": "development"}))
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, env)

	env, err = EnvironmentFromLookup(lookup(map[string]string{
		"OBUOY_ENVIRONMENT": "staging",
		"ENVIRONMENT":       "development",
	}))
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, env)

	env, err = EnvironmentFromLookup(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, env)
}

func TestLoadConfig_PinsEnvironment(t *testing.T) {
	t.Setenv("OBUOY_ENVIRONMENT", "Production")
	path := writeConfigFile(t, "environment: staging\n")

	cfg, err := LoadConfig(path, EnvDevelopment)
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Environment)

	cfg, err = LoadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Environment)
}

func TestEnvironmentFromFile(t *testing.T) {
	env, err := EnvironmentFromFile(writeConfigFile(t, "environment: dev\n"))
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, env)

	env, err = EnvironmentFromFile(writeConfigFile(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, env)

	_, err = EnvironmentFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLookupEnvironment(t *testing.T) {
	_, found, err := LookupEnvironment(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	assert.False(t, found)

	env, found, err := LookupEnvironment(func(k string) (string, bool) {
		return "stage", k == "ENVIRONMENT"
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, EnvStaging, env)
}

func TestMongoURI_Precedence(t *testing.T) {
	cfg := &Config{}
	cfg.MongoDB.URI = "mongodb://default:27017"

	none := func(string) (string, bool) { return "", false }
	assert.Equal(t, "mongodb://default:27017", cfg.MongoURI(none))

	cfg.MongoDBConnection = "mongodb://config:27017"
	assert.Equal(t, "mongodb://config:27017", cfg.MongoURI(none))

	fromEnv := func(k string) (string, bool) {
		if k == MongoDBConnectionName {
			return "mongodb://env:27017", true
		}
		return "", false
	}
	assert.Equal(t, "mongodb://env:27017", cfg.MongoURI(fromEnv))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("OBUOY_DOTENV_CHECK=loaded\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("OBUOY_DOTENV_CHECK") })

	require.NoError(t, LoadDotEnv(EnvProduction, path))
	_, set := os.LookupEnv("OBUOY_DOTENV_CHECK")
	assert.False(t, set, "production must not read .env files")

	require.NoError(t, LoadDotEnv(EnvDevelopment, path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("OBUOY_DOTENV_CHECK"))
}
