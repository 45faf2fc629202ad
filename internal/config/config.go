package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Env       string
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	AppURL    string

	SessionCookieName string

	PostmarkToken string
	EmailFrom     string

	RedisURL string

	// TrustProxyHeaders attributes requests by CF-Connecting-IP and
	// X-Forwarded-For. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool

	RateLimitMax    int
	RateLimitWindow time.Duration

	BcryptCost  int
	HashWorkers int

	CleanupInterval time.Duration
}

// Production reports whether cookies should be marked Secure.
func (c Config) Production() bool {
	return c.Env == "production"
}

// Load reads .env.local and .env when present, then the process
// environment. Variables already set in the environment win.
func Load() (Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:               getenv("RISTO_ENV", "development"),
		Port:              getenv("RISTO_PORT", "8080"),
		DBPath:            getenv("RISTO_DB_PATH", "risto.db"),
		LogLevel:          getenv("RISTO_LOG_LEVEL", "info"),
		LogFormat:         getenv("RISTO_LOG_FORMAT", "text"),
		SessionCookieName: getenv("SESSION_COOKIE_NAME", "session_token"),
		PostmarkToken:     os.Getenv("POSTMARK_SERVER_TOKEN"),
		EmailFrom:         os.Getenv("EMAIL_FROM"),
		RedisURL:          os.Getenv("REDIS_URL"),
	}
	cfg.AppURL = getenv("APP_URL", "http://localhost:"+cfg.Port)

	var err error
	if cfg.RateLimitMax, err = intEnv("RATE_LIMIT_MAX", 3); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = intEnv("BCRYPT_COST", 10); err != nil {
		return Config{}, err
	}
	if cfg.HashWorkers, err = intEnv("HASH_WORKERS", runtime.GOMAXPROCS(0)); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = durationEnv("CLEANUP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TrustProxyHeaders, err = boolEnv("TRUST_PROXY_HEADERS", false); err != nil {
		return Config{}, err
	}

	if cfg.RateLimitMax < 1 {
		return Config{}, fmt.Errorf("RATE_LIMIT_MAX must be at least 1, got %d", cfg.RateLimitMax)
	}
	if cfg.RateLimitWindow <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", cfg.RateLimitWindow)
	}
	if cfg.CleanupInterval <= 0 {
		return Config{}, fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", cfg.CleanupInterval)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}
