package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
server: https://keys.example.com
auth-key: my-auth-key
secret-key: c2VjcmV0
period: 30m
`))
	require.NoError(t, err)

	assert.Equal(t, "https://keys.example.com", config.Server)
	assert.Equal(t, "my-auth-key", config.AuthKey)
	assert.Equal(t, "c2VjcmV0", config.SecretKey)
	assert.Equal(t, 30*time.Minute, config.Period)
}

func TestParseConfig_DefaultPeriod(t *testing.T) {
	config, err := ParseConfig([]byte(`
server: https://keys.example.com
auth-key: my-auth-key
secret-key: c2VjcmV0
`))
	require.NoError(t, err)
	assert.Equal(t, defaultRefreshPeriod, config.Period)
}

func TestParseConfig_MissingFields(t *testing.T) {
	_, err := ParseConfig([]byte(`{}`))
	require.Error(t, err)

	// All missing fields are reported at once.
	assert.ErrorContains(t, err, "server is required")
	assert.ErrorContains(t, err, "auth-key is required")
	assert.ErrorContains(t, err, "secret-key is required")
}

func TestParseConfig_InvalidPeriod(t *testing.T) {
	_, err := ParseConfig([]byte(`
server: https://keys.example.com
auth-key: my-auth-key
secret-key: c2VjcmV0
period: tomorrow
`))
	require.ErrorContains(t, err, "failed to parse period")
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte(`: not yaml`))
	require.Error(t, err)
}

func TestConfig_DumpRedactsSecret(t *testing.T) {
	config := Config{
		Server:    "https://keys.example.com",
		AuthKey:   "my-auth-key",
		SecretKey: "c2VjcmV0",
		Period:    time.Hour,
	}

	dump, err := config.Dump()
	require.NoError(t, err)

	assert.Contains(t, dump, "https://keys.example.com")
	assert.Contains(t, dump, "<redacted>")
	assert.NotContains(t, dump, "c2VjcmV0")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server: https://keys.example.com
auth-key: my-auth-key
secret-key: c2VjcmV0
`), 0600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://keys.example.com", config.Server)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to load config file")
}
