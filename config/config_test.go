package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, 5, cfg.DB.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.DB.RetryDelay)
	assert.Equal(t, time.Hour, cfg.JWT.ExpiresIn)
	assert.Equal(t, "INR", cfg.Gateway.Currency)
	assert.Equal(t, 30*time.Second, cfg.SideEffectTimeout)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Server.TrustProxy)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_RETRY_DELAY", "250ms")
	t.Setenv("RAZORPAY_KEY_SECRET", "legacy-secret")
	t.Setenv("JWT_EXPIRE", "2h")
	t.Setenv("PORT", "7000")
	t.Setenv("SERVER_TRUST_PROXY", "true")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 250*time.Millisecond, cfg.DB.RetryDelay)
	assert.Equal(t, "legacy-secret", cfg.Gateway.KeySecret)
	assert.Equal(t, 2*time.Hour, cfg.JWT.ExpiresIn)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Contains(t, cfg.DSN(), "host=db.internal")
	assert.Contains(t, cfg.MigrationURL(), "@db.internal:5432/society_app")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port out of range", "SERVER_PORT", "70000"},
		{"no retries", "DB_MAX_RETRIES", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := load(viper.New())
			assert.Error(t, err)
		})
	}
}
