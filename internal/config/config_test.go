package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ARK_API_KEY", "AI_MODEL", "Model", "SPEECH_API_KEY", "OPENAI_API_KEY", "SPEECH_PROVIDER", "DATABASE_DSN", "SPEECH_TIMEOUT", "AI_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.AI.Enabled(), "missing credentials must not fail startup")
	assert.Equal(t, 120*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 0, cfg.AI.MaxRetries)
	assert.Equal(t, "whisper", cfg.Speech.Provider)
	assert.Equal(t, "en", cfg.Speech.Language)
	assert.InDelta(t, 0.2, cfg.Speech.Temperature, 1e-9)
	assert.Equal(t, "webm", cfg.Speech.AudioFormat)
	assert.Equal(t, 30*time.Second, cfg.Speech.Timeout)
	assert.Equal(t, 5, cfg.Store.SlugAttempts)
	assert.False(t, cfg.Store.InMemory())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("PUBLIC_BASE_URL", "https://sites.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("AI_MODEL", "ep-123")
	t.Setenv("AI_TIMEOUT", "45s")
	t.Setenv("AI_MAX_RETRIES", "2")
	t.Setenv("SPEECH_TIMEOUT", "15")
	t.Setenv("SPEECH_PROVIDER", "Volcengine")
	t.Setenv("DATABASE_DSN", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "https://sites.example.com", cfg.Server.PublicBaseURL)
	assert.Len(t, cfg.Server.AllowedOrigins, 2)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, 45*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 2, cfg.AI.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.Speech.Timeout)
	assert.Equal(t, "volcengine", cfg.Speech.Provider)
	assert.True(t, cfg.Store.InMemory())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("PORT", "80 80")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("PORT", "")
	t.Setenv("SPEECH_PROVIDER", "carrier-pigeon")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("SPEECH_PROVIDER", "")
	t.Setenv("AI_MAX_RETRIES", "many")
	_, err = Load()
	require.Error(t, err)
}
