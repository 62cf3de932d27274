package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/clubtix")
	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("CLOUDINARY_API_KEY", "key")
	t.Setenv("CLOUDINARY_API_SECRET", "secret")
	t.Setenv("ACCESS_TOKEN_SECRET", "s3cr3t")
}

func TestNewDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.Equal(t, 3*time.Second, cfg.Postgres.PingTimeout)
	assert.Equal(t, int64(25<<20), cfg.Cloudinary.MaxUploadBytes)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 10, cfg.RateLimit.RegisterPerMinute)
}

func TestNewOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("OUTBOX_DISPATCH_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_REGISTER", "30")
	t.Setenv("DB_PING_TIMEOUT", "750ms")

	cfg, err := New()
	require.NoError(t, err)

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.Outbox.DispatchTimeout)
	assert.Equal(t, 30, cfg.RateLimit.RegisterPerMinute)
	assert.Equal(t, 750*time.Millisecond, cfg.Postgres.PingTimeout)
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"missing database url", "DATABASE_URL", ""},
		{"missing token secret", "ACCESS_TOKEN_SECRET", ""},
		{"missing cloudinary", "CLOUDINARY_API_SECRET", ""},
		{"bad env", "APP_ENV", "staging"},
		{"bad port", "SERVER_PORT", "http"},
		{"bad duration", "OUTBOX_POLL_INTERVAL", "soon"},
		{"negative duration", "SERVER_REQUEST_TIMEOUT", "-1s"},
		{"bad log level", "LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := New()
			assert.Error(t, err)
		})
	}
}
