package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("ReconnectDelay converts seconds to duration", func(t *testing.T) {
		cfg := &Config{ReconnectDelaySecs: 5}
		assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	})

	t.Run("CommandTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{CommandTimeoutSecs: 30}
		assert.Equal(t, 30*time.Second, cfg.CommandTimeout())
	})

	t.Run("Cooldown converts milliseconds to duration", func(t *testing.T) {
		cfg := &Config{CooldownMillis: 3000}
		assert.Equal(t, 3*time.Second, cfg.Cooldown())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts default night hours", func(t *testing.T) {
		cfg := &Config{NightHoursStart: 0, NightHoursEnd: 6}
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects out-of-range night hours", func(t *testing.T) {
		cfg := &Config{NightHoursStart: 25, NightHoursEnd: 6}
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects short encryption key in production", func(t *testing.T) {
		cfg := &Config{EncryptionKey: "short", NightHoursEnd: 6}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects known weak encryption key in production", func(t *testing.T) {
		cfg := &Config{EncryptionKey: "change-me", NightHoursEnd: 6}
		err := cfg.Validate(true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
	})

	t.Run("allows empty encryption key with warning", func(t *testing.T) {
		cfg := &Config{NightHoursEnd: 6}
		assert.NoError(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                    os.Getenv("PORT"),
		"DATABASE_URL":            os.Getenv("DATABASE_URL"),
		"REDIS_URL":               os.Getenv("REDIS_URL"),
		"RECONNECT_DELAY_SECONDS": os.Getenv("RECONNECT_DELAY_SECONDS"),
		"COMMAND_TIMEOUT_SECONDS": os.Getenv("COMMAND_TIMEOUT_SECONDS"),
		"LOG_LEVEL":               os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("RECONNECT_DELAY_SECONDS")
		os.Unsetenv("COMMAND_TIMEOUT_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
		assert.Equal(t, 30*time.Second, cfg.CommandTimeout())
		assert.Equal(t, "info", cfg.LogLevel)
		assert.True(t, cfg.UseCoin)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}
