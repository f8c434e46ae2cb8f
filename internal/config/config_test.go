package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodSecret = "0123456789abcdef0123456789abcdef" // 32 chars

func setBase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://preflight:pw@localhost:5432/preflight")
	t.Setenv("JWT_SECRET", goodSecret)
	t.Setenv("API_KEY_SALT", goodSecret)
}

func TestLoad_Defaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.APIPort)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodySize)
	assert.Equal(t, "preflight-tasks", cfg.WorkflowTaskQueue)
	assert.False(t, cfg.EnableDocs, "docs must be off unless explicitly enabled")
	assert.Equal(t, 100, cfg.RateLimitPerMinute)
	assert.Equal(t, 20, cfg.RateLimitUnauth)
}

func TestLoad_RejectsPlaceholderSecrets(t *testing.T) {
	for _, secret := range []string{
		"GENERATE_ME_SOMETHING_LONG_ENOUGH_OK",
		"change-me-change-me-change-me-change-me",
		"placeholder-placeholder-placeholder!",
		"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
		"TODO-rotate-this-secret-before-launch",
	} {
		setBase(t)
		t.Setenv("JWT_SECRET", secret)
		_, err := Load()
		assert.Error(t, err, "secret %q should be rejected", secret)
	}
}

func TestLoad_RejectsShortSecrets(t *testing.T) {
	setBase(t)
	t.Setenv("API_KEY_SALT", "short")

	_, err := Load()
	require.Error(t, err)
	cfgErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "API_KEY_SALT", cfgErr.Field)
}

func TestLoad_RequiresDatabase(t *testing.T) {
	setBase(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ParsesOrigins(t *testing.T) {
	setBase(t)
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AllowedOrigins["https://app.example.com"])
	assert.True(t, cfg.AllowedOrigins["https://staging.example.com"])
	assert.Len(t, cfg.AllowedOrigins, 2)
}

func TestLoad_JWTExpiryBounds(t *testing.T) {
	setBase(t)
	t.Setenv("JWT_EXPIRE_MINUTES", "2000")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_EXPIRE_MINUTES", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_BodySizeCap(t *testing.T) {
	setBase(t)
	t.Setenv("MAX_REQUEST_BODY_SIZE", "20971520") // 20 MB, over the 10 MB cap
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_PostgresPiecewiseDSN(t *testing.T) {
	setBase(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_USER", "preflight")
	t.Setenv("POSTGRES_PASSWORD", "s3cure-enough-for-a-test-environment")
	t.Setenv("POSTGRES_DB", "preflight")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.DatabaseURL, "db.internal:5432/preflight")
}
