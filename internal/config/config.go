package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Engine   EngineConfig   `mapstructure:"engine"`
	LogLevel string         `mapstructure:"log_level"`
}

// DatabaseConfig holds database connection settings.
// URL takes precedence; the host/port fields are a fallback for
// deployments that do not use a DSN.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Port         int    `mapstructure:"port"`
	Debug        bool   `mapstructure:"debug"`
	CORS         bool   `mapstructure:"cors"`
	CORSOrigin   string `mapstructure:"cors_origin"`
	PageSizeMax  int    `mapstructure:"page_size_max"`
	TagBlacklist string `mapstructure:"tag_blacklist"` // "ns:value,ns:value,..."
}

// CrawlerConfig holds site client settings
type CrawlerConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Cookies           string  `mapstructure:"cookies"` // semicolon-separated k=v pairs
	Proxy             string  `mapstructure:"proxy"`
	RateInterval      float64 `mapstructure:"rate_interval"`       // seconds between main-site requests
	ThumbRateInterval float64 `mapstructure:"thumb_rate_interval"` // seconds between thumb CDN requests
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	ThumbTimeout      int     `mapstructure:"thumb_timeout_seconds"`
}

// EngineConfig holds sync engine settings
type EngineConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"` // reconciler cadence
	WarmupSeconds       int    `mapstructure:"warmup_seconds"`        // delay after access validation
	TickPauseSeconds    int    `mapstructure:"tick_pause_seconds"`    // pause between runner ticks
	ThumbDir            string `mapstructure:"thumb_dir"`
	ThumbIdleSeconds    int    `mapstructure:"thumb_idle_seconds"` // sleep when the queue is empty
	StatsCron           string `mapstructure:"stats_cron"`
	StatsEnabled        bool   `mapstructure:"stats_enabled"`
}

var globalConfig *Config

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("api.port", 8880)
	v.SetDefault("api.debug", false)
	v.SetDefault("api.cors", true)
	v.SetDefault("api.cors_origin", "*")
	v.SetDefault("api.page_size_max", 100)
	v.SetDefault("crawler.base_url", "https://exhentai.org")
	v.SetDefault("crawler.rate_interval", 2.0)
	v.SetDefault("crawler.thumb_rate_interval", 0.5)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.thumb_timeout_seconds", 15)
	v.SetDefault("engine.poll_interval_seconds", 3)
	v.SetDefault("engine.warmup_seconds", 30)
	v.SetDefault("engine.tick_pause_seconds", 1)
	v.SetDefault("engine.thumb_dir", "/data/thumbs")
	v.SetDefault("engine.thumb_idle_seconds", 5)
	v.SetDefault("engine.stats_cron", "0 * * * *")
	v.SetDefault("engine.stats_enabled", true)
	v.SetDefault("log_level", "info")

	// Environment contract (operators configure these without a file)
	bindings := map[string]string{
		"database.url":                "DATABASE_URL",
		"crawler.base_url":            "EX_BASE_URL",
		"crawler.cookies":             "EX_COOKIES",
		"crawler.proxy":               "PROXY_URL",
		"crawler.rate_interval":       "RATE_INTERVAL",
		"crawler.thumb_rate_interval": "THUMB_RATE_INTERVAL",
		"engine.thumb_dir":            "THUMB_DIR",
		"api.tag_blacklist":           "TAG_BLACKLIST",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults + environment
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}
