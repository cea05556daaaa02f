package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("VAULT_KEY", strings.Repeat("v", 32))
	t.Setenv("ADMIN_JWT_SECRET", strings.Repeat("a", 32))
	t.Setenv("USER_JWT_SECRET", strings.Repeat("u", 32))
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredSecrets(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.False(t, cfg.App.IsProduction())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Database.MaxOpenConns)
	assert.Equal(t, 10, cfg.Database.OverflowConns)
	assert.Equal(t, "zapa:", cfg.Valkey.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.Bridge.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Bridge.ConnectTimeout)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 4, cfg.Agent.MaxToolRounds)
	assert.Equal(t, 60*time.Second, cfg.Agent.ToolLoopBudget)
	assert.Equal(t, 20, cfg.Agent.ContextMessages)
	assert.Equal(t, 24*time.Hour, cfg.Security.UserTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Health.ProbeInterval)
}

func TestLoadConfigRejectsShortSecrets(t *testing.T) {
	// 1. Missing vault key
	t.Setenv("VAULT_KEY", "")
	t.Setenv("ADMIN_JWT_SECRET", strings.Repeat("a", 32))
	t.Setenv("USER_JWT_SECRET", strings.Repeat("u", 32))
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "VAULT_KEY")

	// 2. Short vault key
	t.Setenv("VAULT_KEY", "short")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "at least 32 bytes")

	// 3. Short JWT secret
	t.Setenv("VAULT_KEY", strings.Repeat("v", 32))
	t.Setenv("USER_JWT_SECRET", "tiny")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "USER_JWT_SECRET")

	// 4. Optional webhook secret still has the length floor when present
	t.Setenv("USER_JWT_SECRET", strings.Repeat("u", 32))
	t.Setenv("WEBHOOK_SECRET", "short")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "WEBHOOK_SECRET")
}

func TestLoadConfigRejectsUnknownEnvironment(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("APP_ENV", "staging")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "APP_ENV")
}

func TestLoadConfigDurationForms(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("BRIDGE_TIMEOUT", "45s")
	t.Setenv("QUEUE_RETRY_DELAY", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Bridge.Timeout)
	assert.Equal(t, 7*time.Second, cfg.Queue.RetryDelay)
}

func TestLoadConfigAdminPasswordHashing(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("ADMIN_PASSWORD", "not-the-hash")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Security.AdminPasswordHash)
	assert.NotEqual(t, "not-the-hash", cfg.Security.AdminPasswordHash)
	assert.True(t, strings.HasPrefix(cfg.Security.AdminPasswordHash, "$2"))
}
