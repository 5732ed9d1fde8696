package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(50<<20), cfg.Security.MaxRequestBodySize)
	assert.True(t, cfg.Features.CacheEnabled)
	assert.Equal(t, 3600, cfg.Cache.TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9000"},
		"database": {"path": "/tmp/file.db"},
		"logging": {"level": "debug", "format": "json"},
		"features": {"cache_enabled": false}
	}`), 0o644))

	t.Setenv("SERVER_PORT", "9100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "/tmp/file.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Features.CacheEnabled)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	bad := *cfg
	bad.RateLimit.Rate = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Logging.Format = "xml"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tracing.Enabled = true
	bad.Tracing.Endpoint = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Database.Path = ""
	assert.Error(t, bad.Validate())
	bad.Features.PersistResults = false
	assert.NoError(t, bad.Validate())
}
