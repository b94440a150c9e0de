package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, EditionCommunity, cfg.Edition)
	assert.Equal(t, RuleSourceFile, cfg.Rules.Source)
	assert.Equal(t, 0.7, cfg.Scoring.Alpha)
	assert.Equal(t, 5, cfg.Scoring.MaxHits)
	assert.Equal(t, 200*time.Millisecond, cfg.Secondary.Timeout)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.False(t, cfg.AsyncWorker)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig(env(nil))
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Repository.Driver)
	})

	t.Run("ProEdition", func(t *testing.T) {
		cfg, err := LoadConfig(env(map[string]string{"SCAMSHIELD_TIER": "pro"}))
		require.NoError(t, err)
		assert.Equal(t, EditionPro, cfg.Edition)
		assert.Equal(t, RuleSourceDatabase, cfg.Rules.Source)
		assert.Equal(t, "postgres", cfg.Repository.Driver)
		assert.Equal(t, "nats", cfg.EventBus.Type)
		assert.True(t, cfg.AsyncWorker)
	})

	t.Run("Overrides", func(t *testing.T) {
		cfg, err := LoadConfig(env(map[string]string{
			"SCAMSHIELD_RULES_PATH":    "/etc/scamshield/rules.yaml",
			"SCAMSHIELD_RULES_STRICT":  "true",
			"SCAMSHIELD_BLEND_ALPHA":   "0.5",
			"SCAMSHIELD_TENANTS":       "bank-a, bank-b,,",
			"SCAMSHIELD_PORT":          "9090",
			"SCAMSHIELD_OTLP_ENDPOINT": "collector:4318",
			"SCAMSHIELD_DEBUG":         "true",
		}))
		require.NoError(t, err)
		assert.Equal(t, "/etc/scamshield/rules.yaml", cfg.Rules.Path)
		assert.True(t, cfg.Rules.Strict)
		assert.Equal(t, 0.5, cfg.Scoring.Alpha)
		assert.Equal(t, []string{"bank-a", "bank-b"}, cfg.WorkerTenants)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.True(t, cfg.Tracing.Enabled)
		assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		for key, val := range map[string]string{
			"SCAMSHIELD_BLEND_ALPHA":  "1.5",
			"SCAMSHIELD_RULES_STRICT": "maybe",
			"SCAMSHIELD_RULES_SOURCE": "s3",
			"SCAMSHIELD_PORT":         "0",
			"SCAMSHIELD_ASYNC_WORKER": "sometimes",
		} {
			_, err := LoadConfig(env(map[string]string{key: val}))
			assert.Error(t, err, key)
		}
	})
}
