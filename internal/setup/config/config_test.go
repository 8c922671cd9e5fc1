package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramble-social/bramble/internal/setup/config"
)

func writeConfig(t *testing.T, contents string) {
	t.Helper()
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("config.toml", []byte(contents), 0o644))
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	writeConfig(t, `
version = 1

[postgresql]
host = "db.internal"
port = 5432
`)

	cfg, dir, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ".", dir)
	assert.Equal(t, "db.internal", cfg.PostgreSQL.Host)

	// Unset tunables get safe defaults.
	assert.Equal(t, 300, cfg.Cache.FriendListTTL)
	assert.Equal(t, 20, cfg.Feed.DefaultPageSize)
	assert.Equal(t, 100, cfg.Feed.MaxPageSize)
	assert.Equal(t, 25, cfg.Feed.FanoutLimit)
	assert.Equal(t, 8, cfg.Feed.MaxConcurrent)
	assert.Equal(t, 10000, cfg.Server.RequestTimeout)
}

func TestLoadConfigHonorsExplicitValues(t *testing.T) {
	writeConfig(t, `
version = 1

[feed]
default_page_size = 10
fanout_limit = 50

[cache]
friend_list_ttl = 60
`)

	cfg, _, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Feed.DefaultPageSize)
	assert.Equal(t, 50, cfg.Feed.FanoutLimit)
	assert.Equal(t, 60, cfg.Cache.FriendListTTL)
}

func TestLoadConfigRejectsMissingVersion(t *testing.T) {
	writeConfig(t, `
[server]
port = 8080
`)

	_, _, err := config.LoadConfig()
	assert.ErrorIs(t, err, config.ErrConfigVersionMissing)
}

func TestLoadConfigRejectsVersionMismatch(t *testing.T) {
	writeConfig(t, `version = 99`)

	_, _, err := config.LoadConfig()
	assert.ErrorIs(t, err, config.ErrConfigVersionMismatch)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := config.LoadConfig()
	assert.ErrorIs(t, err, config.ErrConfigFileNotFound)
}
