package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type Config struct {
	Env      string
	LogLevel slog.Level

	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Cloudinary CloudinaryConfig
	Auth       AuthConfig
	Mail       MailConfig
	Outbox     OutboxConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type PostgresConfig struct {
	URL         string
	MaxConns    int32
	PingTimeout time.Duration
}

// RedisConfig is optional. An empty URL runs without cache, idempotency,
// rate limiting and cross-instance outbox wake-ups.
type RedisConfig struct {
	URL string
}

type CloudinaryConfig struct {
	CloudName      string
	APIKey         string
	APISecret      string
	APIPrefix      string
	MaxUploadBytes int64
}

type AuthConfig struct {
	AccessTokenSecret string
}

// MailConfig selects Resend when APIKey is set and a log-only sender otherwise.
type MailConfig struct {
	ResendAPIKey string
	From         string
}

type OutboxConfig struct {
	PollInterval    time.Duration
	DispatchTimeout time.Duration
}

type RateLimitConfig struct {
	// RegisterPerMinute caps registrations and availability probes per client IP.
	RegisterPerMinute int
}

func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	env := getenv("APP_ENV", EnvDevelopment)
	switch env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return nil, fmt.Errorf("%s: invalid APP_ENV %q", op, env)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("%s: invalid LOG_LEVEL: %w", op, err)
	}

	serverPort, err := atoi("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	requestTimeout, err := duration("SERVER_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("%s: missing DATABASE_URL", op)
	}
	maxConns, err := atoi("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pingTimeout, err := duration("DB_PING_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cld := CloudinaryConfig{
		CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		APIPrefix: os.Getenv("CLOUDINARY_API_PREFIX"),
	}
	if cld.CloudName == "" || cld.APIKey == "" || cld.APISecret == "" {
		return nil, fmt.Errorf("%s: missing CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY or CLOUDINARY_API_SECRET", op)
	}
	maxUpload, err := atoi("MEDIA_MAX_UPLOAD_BYTES", 25<<20)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cld.MaxUploadBytes = int64(maxUpload)

	secret := os.Getenv("ACCESS_TOKEN_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("%s: missing ACCESS_TOKEN_SECRET", op)
	}

	pollInterval, err := duration("OUTBOX_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	dispatchTimeout, err := duration("OUTBOX_DISPATCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	perMinute, err := atoi("RATE_LIMIT_REGISTER", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Env:      env,
		LogLevel: level,
		Server: ServerConfig{
			Host:           getenv("SERVER_HOST", "localhost"),
			Port:           serverPort,
			RequestTimeout: requestTimeout,
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Postgres: PostgresConfig{
			URL:         databaseURL,
			MaxConns:    int32(maxConns),
			PingTimeout: pingTimeout,
		},
		Redis:      RedisConfig{URL: os.Getenv("REDIS_URL")},
		Cloudinary: cld,
		Auth:       AuthConfig{AccessTokenSecret: secret},
		Mail: MailConfig{
			ResendAPIKey: os.Getenv("RESEND_API_KEY"),
			From:         getenv("MAIL_FROM", "Club Tickets <tickets@example.com>"),
		},
		Outbox: OutboxConfig{
			PollInterval:    pollInterval,
			DispatchTimeout: dispatchTimeout,
		},
		RateLimit: RateLimitConfig{RegisterPerMinute: perMinute},
	}, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
