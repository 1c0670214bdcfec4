package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// 対応するデータベースドライバ名。database.Driver* と同じ値を使う。
const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`

	// Telegram
	TelegramBotToken      string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL        string  `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramWebhookURL    string  `env:"TELEGRAM_WEBHOOK_URL"`
	TelegramWebhookSecret string  `env:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramSendRate      float64 `env:"TELEGRAM_SEND_RATE" envDefault:"25"`

	// Auth
	JWTSecret      string        `env:"JWT_SECRET"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"168h"`
	AuthCodeTTL    time.Duration `env:"AUTH_CODE_TTL" envDefault:"10m"`

	// Usage
	FreePlanDailyLimit int           `env:"FREE_PLAN_DAILY_LIMIT" envDefault:"1000"`
	UsageResetInterval time.Duration `env:"USAGE_RESET_INTERVAL" envDefault:"24h"`

	// Rate Limit
	RateLimitVerify  int `env:"RATE_LIMIT_VERIFY" envDefault:"10"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// WebhookEnabled はWebhookモードで起動するかどうかを返す。falseの場合はロングポーリング。
func (c *Config) WebhookEnabled() bool {
	return c.TelegramWebhookURL != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase はデータベース接続に必要な設定だけを読み込む。
// migrateサブコマンドのようにボットやJWTを使わないプロセスで使用する。
func LoadDatabase() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validateDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateDatabase() error {
	switch c.DatabaseDriver {
	case driverPostgres, driverSQLite, driverMemory:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER: %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver != driverMemory && c.DatabaseURL == "" {
		return fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	var missing []string
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.WebhookEnabled() && c.TelegramWebhookSecret == "" {
		missing = append(missing, "TELEGRAM_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if c.AuthCodeTTL <= 0 {
		return fmt.Errorf("AUTH_CODE_TTL must be positive: %s", c.AuthCodeTTL)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive: %s", c.AccessTokenTTL)
	}
	if c.UsageResetInterval <= 0 {
		return fmt.Errorf("USAGE_RESET_INTERVAL must be positive: %s", c.UsageResetInterval)
	}
	return nil
}
