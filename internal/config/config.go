package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	ScheduleCacheTTL       time.Duration `mapstructure:"SCHEDULE_CACHE_TTL"`
	BufferMinutes          int           `mapstructure:"BUFFER_MINUTES"`
	DefaultSlotMinutes     int           `mapstructure:"DEFAULT_SLOT_MINUTES"`
	AlternativeHorizonDays int           `mapstructure:"ALTERNATIVE_HORIZON_DAYS"`
	MaxAlternatives        int           `mapstructure:"MAX_ALTERNATIVES"`
	ChangeHorizonDays      int           `mapstructure:"CHANGE_HORIZON_DAYS"`
	RepositoryTimeout      time.Duration `mapstructure:"REPOSITORY_TIMEOUT"`
	AvailabilityWorkers    int           `mapstructure:"AVAILABILITY_WORKERS"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	OTelEnabled       bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint      string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplingRatio float64 `mapstructure:"OTEL_SAMPLING_RATIO"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"SCHEDULE_CACHE_TTL", "BUFFER_MINUTES", "DEFAULT_SLOT_MINUTES", "ALTERNATIVE_HORIZON_DAYS",
	"MAX_ALTERNATIVES", "CHANGE_HORIZON_DAYS", "REPOSITORY_TIMEOUT", "AVAILABILITY_WORKERS",
	"REQUEST_TIMEOUT", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SCHEDULE_CACHE_TTL", "60s")
	v.SetDefault("BUFFER_MINUTES", 15)
	v.SetDefault("DEFAULT_SLOT_MINUTES", 30)
	v.SetDefault("ALTERNATIVE_HORIZON_DAYS", 7)
	v.SetDefault("MAX_ALTERNATIVES", 5)
	v.SetDefault("CHANGE_HORIZON_DAYS", 90)
	v.SetDefault("REPOSITORY_TIMEOUT", "5s")
	v.SetDefault("AVAILABILITY_WORKERS", 8)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SIGNING_KEY must be set so that bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"DEFAULT_SLOT_MINUTES", c.DefaultSlotMinutes},
		{"ALTERNATIVE_HORIZON_DAYS", c.AlternativeHorizonDays},
		{"MAX_ALTERNATIVES", c.MaxAlternatives},
		{"CHANGE_HORIZON_DAYS", c.ChangeHorizonDays},
		{"AVAILABILITY_WORKERS", c.AvailabilityWorkers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	if c.BufferMinutes < 0 {
		return fmt.Errorf("BUFFER_MINUTES must not be negative, got %d", c.BufferMinutes)
	}
	if c.RepositoryTimeout <= 0 {
		return fmt.Errorf("REPOSITORY_TIMEOUT must be positive, got %s", c.RepositoryTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.OTelSamplingRatio < 0 || c.OTelSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0, 1], got %g", c.OTelSamplingRatio)
	}
	return nil
}
