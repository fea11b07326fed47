package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Provider  ProviderConfig
	Oven      OvenConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver      string
	PostgresURL string
	SQLitePath  string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	Channel  string
}

type SchedulerConfig struct {
	Interval time.Duration
}

type ProviderConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSec    int
	CountryPrefix string
}

type OvenConfig struct {
	StopPhrase string
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

// LoadAll reads the whole configuration from the environment. Every problem
// found is reported, not just the first one.
func LoadAll() (*Config, error) {
	var errs []error
	envInt := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "data/oven.db"),
		},
		Scheduler: SchedulerConfig{
			Interval: time.Duration(envInt("SCHED_INTERVAL_SECONDS", 5)) * time.Second,
		},
		Provider: ProviderConfig{
			BaseURL:       getEnv("PROVIDER_BASE_URL", "https://graph.facebook.com/v19.0"),
			Timeout:       time.Duration(envInt("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
			RatePerSec:    envInt("PROVIDER_RATE_PER_SEC", 20),
			CountryPrefix: getEnv("COUNTRY_PREFIX", "+55"),
		},
		Oven: OvenConfig{
			StopPhrase: getEnv("STOP_PHRASE", "parar promoções"),
		},
		Log: LogConfig{
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		url, err := requireEnv("POSTGRES_URL")
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Database.PostgresURL = url
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite, memory; got %q", cfg.Database.Driver))
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			TTL:      time.Duration(envInt("REDIS_TTL_SECONDS", 86400)) * time.Second,
			Channel:  getEnv("REDIS_CHANNEL", "oven:account:update"),
		}
	}

	if err := cfg.Log.Level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Provider.RatePerSec < 0 {
		errs = append(errs, errors.New("PROVIDER_RATE_PER_SEC must be >= 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL < 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be >= 0"))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json; got %q", cfg.Log.Format))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
