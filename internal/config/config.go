/**
 * @description
 * This package handles the configuration management for the card ledger service.
 * It uses the Viper library to read configuration from environment variables and
 * an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading.
 * - internal/domain: the credit limit is parsed into cents with the ledger's money type.
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/transfa/card-ledger-service/internal/domain"
)

// Config holds all configuration for the card ledger service.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	CreditLimitRaw          string `mapstructure:"CREDIT_LIMIT"`
	SettledDisplayLimit     int    `mapstructure:"SETTLED_DISPLAY_LIMIT"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	OperatorJWKSURL         string `mapstructure:"OPERATOR_JWKS_URL"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	LedgerExchange          string `mapstructure:"LEDGER_EXCHANGE"`
	IngestQueue             string `mapstructure:"INGEST_QUEUE"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	EventRateLimitPerMinute int    `mapstructure:"EVENT_RATE_LIMIT_PER_MINUTE"`
	SnapshotSchedule        string `mapstructure:"SNAPSHOT_SCHEDULE"`

	// CreditLimit is CreditLimitRaw parsed into cents.
	CreditLimit domain.Money `mapstructure:"-"`
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8000")
	viper.SetDefault("CREDIT_LIMIT", "1000.00")
	viper.SetDefault("SETTLED_DISPLAY_LIMIT", 0)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LEDGER_EXCHANGE", "card_ledger.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "card_ledger:rate_limit")
	viper.SetDefault("EVENT_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("SNAPSHOT_SCHEDULE", "@every 5m")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("CREDIT_LIMIT")
	_ = viper.BindEnv("SETTLED_DISPLAY_LIMIT")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("OPERATOR_JWKS_URL")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EXCHANGE")
	_ = viper.BindEnv("INGEST_QUEUE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CARD_LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("EVENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SNAPSHOT_SCHEDULE")

	// A missing .env file is fine; anything else is worth a warning.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.CreditLimit, err = domain.ParseMoney(config.CreditLimitRaw)
	if err != nil {
		return config, fmt.Errorf("invalid CREDIT_LIMIT: %w", err)
	}
	if config.CreditLimit <= 0 {
		return config, fmt.Errorf("invalid CREDIT_LIMIT: must be positive, got %s", config.CreditLimit)
	}

	if config.SettledDisplayLimit < 0 {
		slog.Warn("negative settled display limit configured; showing all", "settled_display_limit", config.SettledDisplayLimit)
		config.SettledDisplayLimit = 0
	}

	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "card_ledger:rate_limit"
	}
	config.IngestQueue = strings.TrimSpace(config.IngestQueue)
	config.SnapshotSchedule = strings.TrimSpace(config.SnapshotSchedule)

	return
}
