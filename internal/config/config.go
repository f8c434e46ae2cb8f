// Package config loads and validates process configuration from the
// environment. Config is loaded once at startup and immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Error reports an invalid or unsafe configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the validated process configuration.
type Config struct {
	DatabaseURL string
	RedisURL    string
	RedisPass   string

	JWTSecret        string
	JWTExpireMinutes int
	APIKeySalt       string

	APIHost string
	APIPort int

	AllowedOrigins map[string]bool
	EnableDocs     bool

	LogLevel  string
	LogFormat string

	RateLimitPerMinute     int
	RateLimitUnauth        int
	MaxRequestBodySize     int64
	TemporalHost           string
	TemporalNamespace      string
	WorkflowTaskQueue      string
	WorkflowWorkerParallel int
}

const (
	defaultBodySize = 1 << 20  // 1 MB
	maxBodySize     = 10 << 20 // hard cap
	minSecretLen    = 32
)

// placeholderMarkers reject secrets that were never rotated off a template.
var placeholderMarkers = []string{"GENERATE_", "change-me", "placeholder", "xxx", "TODO"}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:            getenv("DATABASE_URL", buildPostgresURL()),
		RedisURL:               getenv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPass:              os.Getenv("REDIS_PASSWORD"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		APIKeySalt:             os.Getenv("API_KEY_SALT"),
		APIHost:                getenv("API_HOST", "0.0.0.0"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		LogFormat:              getenv("LOG_FORMAT", "json"),
		TemporalHost:           getenv("TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace:      getenv("TEMPORAL_NAMESPACE", "default"),
		WorkflowTaskQueue:      "preflight-tasks",
		WorkflowWorkerParallel: 4,
	}

	var err error
	if cfg.APIPort, err = getint("API_PORT", 8000); err != nil {
		return nil, err
	}
	if cfg.JWTExpireMinutes, err = getint("JWT_EXPIRE_MINUTES", 60); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getint("RATE_LIMIT_PER_MINUTE", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitUnauth, err = getint("RATE_LIMIT_UNAUTHENTICATED", 20); err != nil {
		return nil, err
	}
	bodySize, err := getint("MAX_REQUEST_BODY_SIZE", defaultBodySize)
	if err != nil {
		return nil, err
	}
	cfg.MaxRequestBodySize = int64(bodySize)

	cfg.AllowedOrigins = parseOrigins(os.Getenv("ALLOWED_ORIGINS"))
	cfg.EnableDocs = strings.EqualFold(os.Getenv("ENABLE_DOCS"), "true")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := checkSecret("JWT_SECRET", c.JWTSecret); err != nil {
		return err
	}
	if err := checkSecret("API_KEY_SALT", c.APIKeySalt); err != nil {
		return err
	}
	if c.RedisPass != "" {
		if err := checkPlaceholder("REDIS_PASSWORD", c.RedisPass); err != nil {
			return err
		}
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		if err := checkPlaceholder("POSTGRES_PASSWORD", pw); err != nil {
			return err
		}
	}
	if c.DatabaseURL == "" {
		return &Error{Field: "DATABASE_URL", Reason: "required"}
	}
	if c.JWTExpireMinutes < 1 || c.JWTExpireMinutes > 1440 {
		return &Error{Field: "JWT_EXPIRE_MINUTES", Reason: "must be between 1 and 1440"}
	}
	if c.MaxRequestBodySize <= 0 || c.MaxRequestBodySize > maxBodySize {
		return &Error{Field: "MAX_REQUEST_BODY_SIZE", Reason: fmt.Sprintf("must be in (0, %d]", maxBodySize)}
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return &Error{Field: "API_PORT", Reason: "must be a valid TCP port"}
	}
	if c.RateLimitPerMinute < 1 {
		return &Error{Field: "RATE_LIMIT_PER_MINUTE", Reason: "must be positive"}
	}
	if c.RateLimitUnauth < 1 {
		return &Error{Field: "RATE_LIMIT_UNAUTHENTICATED", Reason: "must be positive"}
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return &Error{Field: "LOG_FORMAT", Reason: "must be json or text"}
	}
	return nil
}

func checkSecret(field, value string) error {
	if value == "" {
		return &Error{Field: field, Reason: "required"}
	}
	if len(value) < minSecretLen {
		return &Error{Field: field, Reason: fmt.Sprintf("must be at least %d characters", minSecretLen)}
	}
	return checkPlaceholder(field, value)
}

func checkPlaceholder(field, value string) error {
	for _, marker := range placeholderMarkers {
		if strings.Contains(value, marker) {
			return &Error{Field: field, Reason: "looks like an unrotated placeholder"}
		}
	}
	return nil
}

func parseOrigins(raw string) map[string]bool {
	origins := make(map[string]bool)
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins[o] = true
		}
	}
	return origins
}

// buildPostgresURL assembles a DSN from the discrete POSTGRES_* variables
// when DATABASE_URL is not set.
func buildPostgresURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "postgres")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := getenv("POSTGRES_DB", "preflight")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, db)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &Error{Field: key, Reason: "must be an integer"}
	}
	return n, nil
}
