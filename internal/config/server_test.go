package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearServerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GITSWARM_DATABASE_URL", "GITSWARM_CACHE_URL", "GITSWARM_API_PREFIX",
		"GITSWARM_LOG_LEVEL", "GITSWARM_RATE_LIMIT_DEFAULT_MAX",
		"GITSWARM_RATE_LIMIT_DEFAULT_WINDOW_SECONDS", "GITSWARM_STABILIZE_IMAGE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadServerConfig_RequiresDatabaseURL(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("GITSWARM_CACHE_URL", "redis://localhost:6379")
	_, err := LoadServerConfig()
	require.Error(t, err)
}

func TestLoadServerConfig_RequiresCacheURL(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("GITSWARM_DATABASE_URL", "postgres://localhost/gitswarm")
	_, err := LoadServerConfig()
	require.Error(t, err)
}

func TestLoadServerConfig_DefaultsAPIPrefixAndLogLevel(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("GITSWARM_DATABASE_URL", "postgres://localhost/gitswarm")
	t.Setenv("GITSWARM_CACHE_URL", "redis://localhost:6379")

	c, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "/api/v1", c.APIPrefix)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 100, c.RateLimitMax)
	assert.Equal(t, 3600, c.RateLimitWindowSecs)
}

func TestLoadServerConfig_ParsesRateLimitOverrides(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("GITSWARM_DATABASE_URL", "postgres://localhost/gitswarm")
	t.Setenv("GITSWARM_CACHE_URL", "redis://localhost:6379")
	t.Setenv("GITSWARM_RATE_LIMIT_DEFAULT_MAX", "42")
	t.Setenv("GITSWARM_RATE_LIMIT_DEFAULT_WINDOW_SECONDS", "60")

	c, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 42, c.RateLimitMax)
	assert.Equal(t, 60, c.RateLimitWindowSecs)
}

func TestLoadServerConfig_RejectsNonNumericRateLimit(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("GITSWARM_DATABASE_URL", "postgres://localhost/gitswarm")
	t.Setenv("GITSWARM_CACHE_URL", "redis://localhost:6379")
	t.Setenv("GITSWARM_RATE_LIMIT_DEFAULT_MAX", "not-a-number")

	_, err := LoadServerConfig()
	require.Error(t, err)
}
