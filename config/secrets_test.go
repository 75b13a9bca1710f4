package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecretManager map[string]string

func (m mapSecretManager) GetSecret(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestEnvSecretManager_GetSecret(t *testing.T) {
	manager := &EnvSecretManager{}

	t.Setenv("OBUOY_SECRET_GOOGLEAPIKEY", "from-env")
	value, err := manager.GetSecret(GoogleAPIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = manager.GetSecret("does_not_exist")
	assert.Error(t, err)
}

func TestFillFromSecrets(t *testing.T) {
	cfg := &Config{}
	err := fillFromSecrets(cfg, mapSecretManager{
		GoogleAPIKeyName:      "secret-key",
		MongoDBConnectionName: "mongodb://secret:27017",
	})
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.GoogleAPIKey)
	assert.Equal(t, "mongodb://secret:27017", cfg.MongoDBConnection)
}

func TestFillFromSecrets_KeepsExistingValues(t *testing.T) {
	cfg := &Config{GoogleAPIKey: "configured", MongoDBConnection: "mongodb://configured:27017"}
	require.NoError(t, fillFromSecrets(cfg, mapSecretManager{}))
	assert.Equal(t, "configured", cfg.GoogleAPIKey)
}

func TestFillFromSecrets_MapsKeyOptional(t *testing.T) {
	cfg := &Config{}
	err := fillFromSecrets(cfg, mapSecretManager{MongoDBConnectionName: "mongodb://secret:27017"})
	require.NoError(t, err)
	assert.Empty(t, cfg.GoogleAPIKey)

	cfg = &Config{}
	assert.Error(t, fillFromSecrets(cfg, mapSecretManager{GoogleAPIKeyName: "k"}))
}

func TestNewSecretManager(t *testing.T) {
	cfg := &Config{}
	m, err := NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, m)

	cfg.Secrets.Provider = "gcp"
	_, err = NewSecretManager(cfg)
	assert.Error(t, err)
}
