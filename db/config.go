package db

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting the API process needs. All services
// receive their dependencies from here at startup; nothing reads the
// environment after LoadConfig returns.
type Config struct {
	DatabaseURL         string        `mapstructure:"database_url"`
	ListenAddr          string        `mapstructure:"listen_addr"`
	JWTSecret           string        `mapstructure:"jwt_secret"`
	StripeSecretKey     string        `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string        `mapstructure:"stripe_webhook_secret"`
	MinFeeCents         int64         `mapstructure:"min_marketplace_fee"`
	PendingSaleTTL      time.Duration `mapstructure:"pending_sale_ttl"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

// LoadConfig reads settings from the environment (and an optional config
// file in the working directory). Missing required values are a startup
// error, never a runtime nil-check.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("min_marketplace_fee", 50)
	v.SetDefault("pending_sale_ttl", "30m")
	v.SetDefault("sweep_interval", "5m")

	for _, key := range []string{
		"database_url",
		"jwt_secret",
		"stripe_secret_key",
		"stripe_webhook_secret",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("db: bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("db: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("db: unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("db: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("db: JWT_SECRET is required")
	}
	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("db: STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return Config{}, fmt.Errorf("db: STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.MinFeeCents < 0 {
		return Config{}, fmt.Errorf("db: MIN_MARKETPLACE_FEE must not be negative")
	}
	if cfg.PendingSaleTTL <= 0 {
		return Config{}, fmt.Errorf("db: PENDING_SALE_TTL must be positive")
	}

	return cfg, nil
}
