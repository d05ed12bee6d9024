package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultDatabaseURL     = "authservice.db"
	defaultLogLevel        = "info"
	defaultAccessTokenTTL  = "15m"
	defaultRefreshTokenTTL = "7d"
	defaultSaltRounds      = 10

	minSaltRounds = 4
	maxSaltRounds = 31
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	AccessTokenSecret  string
	AccessTokenTTL     time.Duration
	RefreshTokenSecret string
	RefreshTokenTTL    time.Duration

	SaltRounds      int
	HashConcurrency int

	CORSAllowedOrigins []string
}

// Load reads the process environment into a Config and validates it.
// Missing token secrets are a startup error.
func Load() (*Config, error) {
	cfg := &Config{}

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.LogLevel = strings.TrimSpace(getEnv("LOG_LEVEL", defaultLogLevel))

	cfg.AccessTokenSecret = strings.TrimSpace(os.Getenv("JWT_ACCESS_TOKEN_SECRET"))
	cfg.RefreshTokenSecret = strings.TrimSpace(os.Getenv("JWT_REFRESH_TOKEN_SECRET"))

	var err error
	cfg.AccessTokenTTL, err = parseDurationEnv("JWT_ACCESS_TOKEN_EXPIRES_IN", defaultAccessTokenTTL)
	if err != nil {
		return nil, err
	}

	cfg.RefreshTokenTTL, err = parseDurationEnv("JWT_REFRESH_TOKEN_EXPIRES_IN", defaultRefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	cfg.SaltRounds, err = parseIntEnv("SALT_ROUNDS", defaultSaltRounds)
	if err != nil {
		return nil, err
	}

	cfg.HashConcurrency, err = parseIntEnv("HASH_CONCURRENCY", runtime.GOMAXPROCS(0))
	if err != nil {
		return nil, err
	}

	cfg.CORSAllowedOrigins = csv(os.Getenv("CORS_ALLOWED_ORIGINS"))

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.AccessTokenSecret == "" {
		return fmt.Errorf("JWT_ACCESS_TOKEN_SECRET must be set")
	}
	if cfg.RefreshTokenSecret == "" {
		return fmt.Errorf("JWT_REFRESH_TOKEN_SECRET must be set")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return fmt.Errorf("JWT_ACCESS_TOKEN_SECRET and JWT_REFRESH_TOKEN_SECRET must differ")
	}
	if cfg.AccessTokenTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRES_IN must be > 0")
	}
	if cfg.RefreshTokenTTL <= 0 {
		return fmt.Errorf("JWT_REFRESH_TOKEN_EXPIRES_IN must be > 0")
	}
	if cfg.SaltRounds < minSaltRounds || cfg.SaltRounds > maxSaltRounds {
		return fmt.Errorf("SALT_ROUNDS must be between %d and %d", minSaltRounds, maxSaltRounds)
	}
	if cfg.HashConcurrency <= 0 {
		return fmt.Errorf("HASH_CONCURRENCY must be > 0")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}

	if isProdLike(cfg.AppEnv) {
		if len(cfg.AccessTokenSecret) < 32 || len(cfg.RefreshTokenSecret) < 32 {
			return fmt.Errorf("in prod/release token secrets must be at least 32 bytes")
		}
	}

	return nil
}

// IsProduction reports whether APP_ENV names a production-like environment.
func (c *Config) IsProduction() bool {
	return isProdLike(c.AppEnv)
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

// ParseDuration accepts everything time.ParseDuration does plus whole-day ("7d")
// and whole-week ("2w") values.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := value[len(value)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(value[:len(value)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			return time.Duration(n) * 7 * day, nil
		}
		return time.Duration(n) * day, nil
	}

	return time.ParseDuration(value)
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func csv(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
