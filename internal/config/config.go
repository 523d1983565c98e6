package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAppName          = "CongoAuth"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultAppURL           = "http://localhost:3000"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultRefreshTokenTTL  = 7 * 24 * time.Hour
	defaultPasswordResetTTL = time.Hour
	defaultPinTTL           = 5 * time.Minute
	defaultPasswordCost     = 12
	defaultChallengeCost    = 10
	defaultSweepSchedule    = "@every 15m"
	defaultNotifyExchange   = "notifications"
	defaultMailFrom         = "noreply@example.com"
	minHashCost             = 10
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
// It is built once at startup and treated as immutable afterwards.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	LogFormat      string
	AppURL         string
	DatabaseURL    string
	RedisURL       string
	RabbitMQURL    string
	NotifyExchange string
	MailFrom       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	SweepSchedule  string

	AccessTokenSecret  string
	AccessTokenTTL     time.Duration
	RefreshTokenSecret string
	RefreshTokenTTL    time.Duration
	TokenIssuer        string

	PasswordResetTTL time.Duration
	PinTTL           time.Duration
	PasswordCost     int
	ChallengeCost    int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		Env:                strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		AppURL:             strings.TrimRight(getEnv("APP_URL", defaultAppURL), "/"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		NotifyExchange:     getEnv("NOTIFY_EXCHANGE", defaultNotifyExchange),
		MailFrom:           getEnv("MAIL_FROM", defaultMailFrom),
		SweepSchedule:      getEnv("CHALLENGE_SWEEP_SCHEDULE", defaultSweepSchedule),
		AccessTokenSecret:  os.Getenv("JWT_SECRET"),
		RefreshTokenSecret: os.Getenv("JWT_REFRESH_SECRET"),
		TokenIssuer:        getEnv("JWT_ISSUER", defaultAppName),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = getDuration("JWT_ACCESS_TOKEN_EXPIRES_IN", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("JWT_REFRESH_TOKEN_EXPIRES_IN", defaultRefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.PasswordResetTTL, err = getDuration("PASSWORD_RESET_TTL", defaultPasswordResetTTL); err != nil {
		return Config{}, err
	}
	if cfg.PinTTL, err = getDuration("PIN_TTL", defaultPinTTL); err != nil {
		return Config{}, err
	}
	if cfg.PasswordCost, err = getInt("PASSWORD_HASH_COST", defaultPasswordCost); err != nil {
		return Config{}, err
	}
	if cfg.ChallengeCost, err = getInt("CHALLENGE_HASH_COST", defaultChallengeCost); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the credential engine cannot run with.
func (c Config) Validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.Env)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.Env)
		}
	}
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.RefreshTokenSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET must be set")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	for name, ttl := range map[string]time.Duration{
		"JWT_ACCESS_TOKEN_EXPIRES_IN":  c.AccessTokenTTL,
		"JWT_REFRESH_TOKEN_EXPIRES_IN": c.RefreshTokenTTL,
		"PASSWORD_RESET_TTL":           c.PasswordResetTTL,
		"PIN_TTL":                      c.PinTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	for name, cost := range map[string]int{
		"PASSWORD_HASH_COST":  c.PasswordCost,
		"CHALLENGE_HASH_COST": c.ChallengeCost,
	} {
		if cost < minHashCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("%s must be between %d and %d", name, minHashCost, bcrypt.MaxCost)
		}
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("15m") and the day suffix used by the
// previous deployment ("7d").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
