package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	AdvisorURL       string        `mapstructure:"ADVISOR_URL"`
	AdvisorAPIKey    string        `mapstructure:"ADVISOR_API_KEY"`
	AdvisorModel     string        `mapstructure:"ADVISOR_MODEL"`
	AdvisorTimeout   time.Duration `mapstructure:"ADVISOR_TIMEOUT"`
	AdvisorCacheSize int           `mapstructure:"ADVISOR_CACHE_SIZE"`

	StockWarningLevel  int `mapstructure:"STOCK_WARNING_LEVEL"`
	StockShortageLevel int `mapstructure:"STOCK_SHORTAGE_LEVEL"`
	StockSweepMinutes  int `mapstructure:"STOCK_SWEEP_MINUTES"`

	DefaultPrescriber string `mapstructure:"DEFAULT_PRESCRIBER"`
	SeedDemoData      bool   `mapstructure:"SEED_DEMO_DATA"`
	SentryDSN         string `mapstructure:"SENTRY_DSN"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"ADVISOR_URL", "ADVISOR_API_KEY", "ADVISOR_MODEL", "ADVISOR_TIMEOUT", "ADVISOR_CACHE_SIZE",
	"STOCK_WARNING_LEVEL", "STOCK_SHORTAGE_LEVEL", "STOCK_SWEEP_MINUTES",
	"DEFAULT_PRESCRIBER", "SEED_DEMO_DATA", "SENTRY_DSN",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "data/his.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1MiB")
	v.SetDefault("ADVISOR_TIMEOUT", "15s")
	v.SetDefault("ADVISOR_CACHE_SIZE", 256)
	v.SetDefault("STOCK_WARNING_LEVEL", 100)
	v.SetDefault("STOCK_SHORTAGE_LEVEL", 50)
	v.SetDefault("STOCK_SWEEP_MINUTES", 15)
	v.SetDefault("DEFAULT_PRESCRIBER", "DOC001")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	if !v.IsSet("SEED_DEMO_DATA") {
		v.Set("SEED_DEMO_DATA", v.GetString("ENV") == "development")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AdvisorEnabled reports whether an advisory service is configured.
func (c *Config) AdvisorEnabled() bool {
	return c.AdvisorAPIKey != "" || c.AdvisorURL != ""
}

// SweepInterval is the stock sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.StockSweepMinutes) * time.Minute
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q, or %q, got %q",
			DriverMemory, DriverSQLite, DriverPostgres, c.StoreDriver)
	}

	if c.StockShortageLevel < 0 {
		return fmt.Errorf("STOCK_SHORTAGE_LEVEL must not be negative, got %d", c.StockShortageLevel)
	}
	if c.StockWarningLevel < c.StockShortageLevel {
		return fmt.Errorf("STOCK_WARNING_LEVEL (%d) must not be below STOCK_SHORTAGE_LEVEL (%d)",
			c.StockWarningLevel, c.StockShortageLevel)
	}
	if c.StockSweepMinutes <= 0 {
		return fmt.Errorf("STOCK_SWEEP_MINUTES must be positive, got %d", c.StockSweepMinutes)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
