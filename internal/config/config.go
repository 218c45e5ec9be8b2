package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type AuthConfig struct {
	// SessionSecret signs the pending-session cookie.
	SessionSecret string

	// Issuer appears in provisioning URIs and authenticator apps.
	Issuer string

	BindTokenTTL   time.Duration // magic-link lifetime
	ResetTokenTTL  time.Duration // password-reset lifetime
	ResendCooldown time.Duration // minimum gap between bind resends

	// LocalEmailDomain is the institutional mail domain local accounts
	// must register under. Cross-institution accounts are exempt.
	LocalEmailDomain string

	FailureDelayBase   time.Duration
	FailureDelayJitter time.Duration
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	BaseURL     string // public origin used to build emailed links
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if len(sessionSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters, got %d", len(sessionSecret))
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "campusauth"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			SessionSecret:      sessionSecret,
			Issuer:             getEnv("TOTP_ISSUER", "TTU-Auth"),
			BindTokenTTL:       getEnvAsDuration("BIND_TOKEN_TTL", 24*time.Hour),
			ResetTokenTTL:      getEnvAsDuration("RESET_TOKEN_TTL", 30*time.Minute),
			ResendCooldown:     getEnvAsDuration("RESEND_COOLDOWN", 60*time.Second),
			LocalEmailDomain:   getEnv("LOCAL_EMAIL_DOMAIN", "o365.ttu.edu.tw"),
			FailureDelayBase:   getEnvAsDuration("FAILURE_DELAY_BASE", 200*time.Millisecond),
			FailureDelayJitter: getEnvAsDuration("FAILURE_DELAY_JITTER", 100*time.Millisecond),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "ap-northeast-1"),
			FromAddress: getEnv("EMAIL_FROM", "no-reply@o365.ttu.edu.tw"),
			BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
