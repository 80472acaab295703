package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Prospeo ProspeoConfig `yaml:"prospeo" mapstructure:"prospeo"`
	HubSpot HubSpotConfig `yaml:"hubspot" mapstructure:"hubspot"`
	Jobs    JobsConfig    `yaml:"jobs" mapstructure:"jobs"`
	Pricing PricingConfig `yaml:"pricing" mapstructure:"pricing"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProspeoConfig holds search gateway credentials and throttling limits.
type ProspeoConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	MaxPerSecond int    `yaml:"max_per_second" mapstructure:"max_per_second"`
	MaxPerMinute int    `yaml:"max_per_minute" mapstructure:"max_per_minute"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts  int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// HubSpotConfig holds CRM credentials for the enrichment stage.
type HubSpotConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	MaxPer10 int    `yaml:"max_per_10s" mapstructure:"max_per_10s"`
}

// JobsConfig configures job dispatch and maintenance.
type JobsConfig struct {
	MaxConcurrent          int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	CommitEvery            int    `yaml:"commit_every" mapstructure:"commit_every"`
	DefaultMaxDataAgeDays  int    `yaml:"default_max_data_age_days" mapstructure:"default_max_data_age_days"`
	ReconcileSpec          string `yaml:"reconcile_spec" mapstructure:"reconcile_spec"`
	StaleAfterMins         int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	PreviewSampleSize      int    `yaml:"preview_sample_size" mapstructure:"preview_sample_size"`
	MaxPagesUnknownSegment int    `yaml:"max_pages_unknown_segment" mapstructure:"max_pages_unknown_segment"`
}

// PricingConfig holds gateway credit prices per call type.
type PricingConfig struct {
	CompanyPage int `yaml:"company_page" mapstructure:"company_page"`
	PersonQuery int `yaml:"person_query" mapstructure:"person_query"`
}

// RedisConfig enables the cross-process stop signal when URL is set.
type RedisConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	TTLMinutes int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file, and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have no default but must be known to viper so AutomaticEnv
	// picks them up from the environment and .env.
	for _, key := range []string{"prospeo.key", "hubspot.key", "redis.url"} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "market_sizing.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("prospeo.base_url", "https://api.prospeo.io")
	v.SetDefault("prospeo.max_per_second", 30)
	v.SetDefault("prospeo.max_per_minute", 1800)
	v.SetDefault("prospeo.timeout_secs", 30)
	v.SetDefault("prospeo.max_attempts", 3)
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.max_per_10s", 100)
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.commit_every", 10)
	v.SetDefault("jobs.default_max_data_age_days", 30)
	v.SetDefault("jobs.reconcile_spec", "@every 5m")
	v.SetDefault("jobs.stale_after_mins", 30)
	v.SetDefault("jobs.preview_sample_size", 5)
	v.SetDefault("jobs.max_pages_unknown_segment", 1000)
	v.SetDefault("pricing.company_page", 1)
	v.SetDefault("pricing.person_query", 1)
	v.SetDefault("redis.ttl_minutes", 1440)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "plan",
// "preview", "jobs", "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "plan", "preview":
		if c.Prospeo.Key == "" {
			problems = append(problems, "prospeo.key is required")
		}
	case "jobs", "serve":
		if c.Prospeo.Key == "" {
			problems = append(problems, "prospeo.key is required")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			problems = append(problems, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
		}
		if c.Jobs.MaxConcurrent < 1 || c.Jobs.MaxConcurrent > 64 {
			problems = append(problems, "jobs.max_concurrent must be between 1 and 64")
		}
		if c.Jobs.CommitEvery < 1 {
			problems = append(problems, "jobs.commit_every must be positive")
		}
		if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if c.Prospeo.MaxPerSecond < 0 || c.Prospeo.MaxPerMinute < 0 {
		problems = append(problems, "prospeo rate limits must not be negative")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
