package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := fromLookup(envLookup(nil))
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Limits.GeneralShort)
	assert.Equal(t, 4000, cfg.Limits.GeneralLong)
	assert.Equal(t, 30, cfg.Limits.SensitiveShort)
	assert.Equal(t, 250, cfg.Limits.SensitiveLong)
	assert.Equal(t, time.Minute, cfg.Limits.ShortWindow)
	assert.Equal(t, 24*time.Hour, cfg.Limits.LongWindow)
	assert.Equal(t, 5*time.Minute, cfg.Identity.CacheTTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Identity.StoreTimeout)
	assert.Equal(t, 2*time.Second, cfg.Identity.FetchTimeout)
	assert.Equal(t, 1, cfg.Redis.DialRetries)
	assert.False(t, cfg.Admission.AllowProgrammaticSensitive)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := fromLookup(envLookup(map[string]string{
		"SENSITIVE_SHORT_LIMIT":        "20",
		"SHORT_WINDOW_LENGTH":          "30s",
		"IDENTITY_CACHE_TTL":           "1m",
		"ALLOW_PROGRAMMATIC_SENSITIVE": "true",
		"REQUIRED_CONSENT_VERSION":     "2024-06",
		"REDIS_URL":                    "redis://cache:6379/1",
		"DATABASE_AUTO_MIGRATE":        "1",
	}))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Limits.SensitiveShort)
	assert.Equal(t, 30*time.Second, cfg.Limits.ShortWindow)
	assert.Equal(t, time.Minute, cfg.Identity.CacheTTL)
	assert.True(t, cfg.Admission.AllowProgrammaticSensitive)
	assert.Equal(t, "2024-06", cfg.Admission.RequiredConsentVersion)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	_, err := fromLookup(envLookup(map[string]string{
		"GENERAL_SHORT_LIMIT": "lots",
		"STORE_TIMEOUT":       "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENERAL_SHORT_LIMIT")
	assert.Contains(t, err.Error(), "STORE_TIMEOUT")
}

func TestFromEnvValidates(t *testing.T) {
	t.Run("zero limit", func(t *testing.T) {
		_, err := fromLookup(envLookup(map[string]string{"SENSITIVE_LONG_LIMIT": "0"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sensitive_long")
	})

	t.Run("long window not longer than short window", func(t *testing.T) {
		_, err := fromLookup(envLookup(map[string]string{
			"SHORT_WINDOW_LENGTH": "1h",
			"LONG_WINDOW_LENGTH":  "1h",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "long_window")
	})

	t.Run("short signing key", func(t *testing.T) {
		_, err := fromLookup(envLookup(map[string]string{"JWT_SIGNING_KEY": "short"}))
		require.Error(t, err)
	})
}
