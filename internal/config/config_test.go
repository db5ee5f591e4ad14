package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"TELEGRAM_BOT_TOKEN", "BOT_TOKEN", "GOOGLE_API_KEY", "OPENAI_API_KEY", "AI_PROVIDER",
		"DATABASE_URL", "REDIS_URL", "BROADCAST_TYPE", "MAX_HISTORY", "MAX_USER_MSG_LEN",
		"RATE_WINDOW", "CACHE_TTL", "ADMIN_TOKEN", "PORT", "LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Context.MaxHistory)
	assert.Equal(t, 2000, cfg.Context.MaxMessageLength)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 300*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.AI.RetryAttempts)
	assert.Equal(t, time.Duration(0), cfg.AI.RequestTimeout)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.AI.TextModel())
	assert.Equal(t, "imagen-3.0-generate-002", cfg.AI.ImageModel())
	assert.Equal(t, 8000, cfg.Admin.Port)
	assert.True(t, cfg.UsesDefaultAdminToken())
	assert.Equal(t, "memory", cfg.Broadcast.Type)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("MAX_HISTORY", "5")
	t.Setenv("MAX_USER_MSG_LEN", "100")
	t.Setenv("RATE_WINDOW", "2.5")
	t.Setenv("CACHE_TTL", "60")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("PORT", "9001")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, "g-key", cfg.AI.Gemini.APIKey)
	assert.Equal(t, 5, cfg.Context.MaxHistory)
	assert.Equal(t, 100, cfg.Context.MaxMessageLength)
	assert.Equal(t, 2500*time.Millisecond, cfg.RateLimit.Window)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "s3cret", cfg.Admin.Token)
	assert.Equal(t, 9001, cfg.Admin.Port)
	assert.False(t, cfg.UsesDefaultAdminToken())
	assert.NoError(t, cfg.ValidateBot())
	assert.NoError(t, cfg.ValidateAdmin())
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
ai:
  provider: openai
  openai:
    api_key: sk-test
rate_limit:
  window: 500ms
broadcast:
  type: redis
  redis:
    url: redis://localhost:6379/0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.TextModel())
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.Window)
	assert.Equal(t, "redis", cfg.Broadcast.Type)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Broadcast.Redis.URL)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Run("rate window", func(t *testing.T) {
		t.Setenv("RATE_WINDOW", "fast")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
	t.Run("provider", func(t *testing.T) {
		t.Setenv("AI_PROVIDER", "llama")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
}

func TestValidateBotRequiresKeys(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateBot())

	cfg.Bot.Token = "token"
	assert.Error(t, cfg.ValidateBot())

	cfg.AI.Gemini.APIKey = "key"
	assert.NoError(t, cfg.ValidateBot())
}
