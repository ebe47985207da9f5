package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("HTTP_PORT", "")
	cfg := Load()
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, "8081", cfg.HTTPPort)
	require.False(t, cfg.Production())
	require.Equal(t, 12*time.Hour, cfg.AccessTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("ACCESS_TTL", "bogus")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	cfg := Load()
	require.True(t, cfg.Production())
	require.Equal(t, 30, cfg.RateLimitPerMin)
	require.Equal(t, 12*time.Hour, cfg.AccessTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}
