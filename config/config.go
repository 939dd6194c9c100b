package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data must come from the environment or an .env file, never code.
type AppConfig struct {
	AppPort     string `env:"APP_PORT" envDefault:"5300"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Gateway auth. The token is required unless explicitly disabled for
	// local development; an unset token never silently opens the service.
	GatewayToken        string `env:"PROGRESSION_SERVICE_TOKEN"`
	GatewayAuthDisabled bool   `env:"GATEWAY_AUTH_DISABLED" envDefault:"false"`

	// Logging
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath       string `env:"LOG_PATH"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"7"`
	LogCompress   bool   `env:"LOG_COMPRESS" envDefault:"false"`

	// Object storage for rendered certificates (S3-compatible, e.g. R2)
	StorageAccountID    string `env:"STORAGE_ACCOUNT_ID"`
	StorageAccessKey    string `env:"STORAGE_ACCESS_KEY_ID"`
	StorageAccessSecret string `env:"STORAGE_ACCESS_KEY_SECRET"`
	StorageBucket       string `env:"STORAGE_BUCKET_NAME"`
	CDNBaseURL          string `env:"CDN_BASE_URL"`

	// SMTP for the completion certificate email
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"LexiCard"`
	SMTPTLS      bool   `env:"SMTP_TLS" envDefault:"true"`

	// Learner profile sync (auth service public profiles feed)
	AuthServiceURL   string `env:"AUTH_SERVICE_URL"`
	AuthServiceToken string `env:"AUTH_SERVICE_TOKEN"`

	// Effects worker
	EffectsIntervalSeconds int `env:"EFFECTS_INTERVAL_SECONDS" envDefault:"15"`
	EffectsMaxAttempts     int `env:"EFFECTS_MAX_ATTEMPTS" envDefault:"5"`
}

var current AppConfig

// Load reads .env (best effort), parses the environment and caches the result.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	current = cfg
	return cfg, nil
}

// Get returns the last loaded configuration.
func Get() AppConfig {
	return current
}
