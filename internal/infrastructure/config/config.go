package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Monitor   MonitorConfig
	Restart   RestartConfig
	Redis     RedisConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	// AllowedOrigins is the CORS allow list for dashboard clients.
	AllowedOrigins []string `envconfig:"CORS_ORIGINS" default:"*" yaml:"allowed_origins"`
}

// WorkerConfig holds browser worker configuration.
type WorkerConfig struct {
	// Binary is the browser executable launched per profile.
	Binary string `envconfig:"WORKER_BINARY" default:"chromium" yaml:"binary"`
	// ProfileRoot is the base directory for per-profile data dirs.
	ProfileRoot string `envconfig:"PROFILE_ROOT" default:"/var/lib/fleet/profiles" yaml:"profile_root"`
	// Headless controls whether workers run without a display.
	Headless bool `envconfig:"WORKER_HEADLESS" default:"true" yaml:"headless"`
	// LaunchTimeout bounds how long a launch may take before it fails.
	LaunchTimeout time.Duration `envconfig:"WORKER_LAUNCH_TIMEOUT" default:"30s" yaml:"launch_timeout"`
	// StopGracePeriod is how long a graceful shutdown is given before
	// escalating to a kill when force is requested.
	StopGracePeriod time.Duration `envconfig:"WORKER_STOP_GRACE" default:"5s" yaml:"stop_grace_period"`
	// DebugPortBase is the first DevTools debug port; workers get
	// sequential ports from here.
	DebugPortBase int `envconfig:"WORKER_DEBUG_PORT_BASE" default:"9400" yaml:"debug_port_base"`
}

// MonitorConfig holds resource and health monitoring configuration.
type MonitorConfig struct {
	SampleInterval      time.Duration `envconfig:"MONITOR_SAMPLE_INTERVAL" default:"30s" yaml:"sample_interval"`
	HealthInterval      time.Duration `envconfig:"MONITOR_HEALTH_INTERVAL" default:"60s" yaml:"health_interval"`
	SampleCacheTTL      time.Duration `envconfig:"MONITOR_SAMPLE_CACHE_TTL" default:"5s" yaml:"sample_cache_ttl"`
	HistoryCap          int           `envconfig:"MONITOR_HISTORY_CAP" default:"1000" yaml:"history_cap"`
	AlertHistoryCap     int           `envconfig:"MONITOR_ALERT_CAP" default:"200" yaml:"alert_history_cap"`
	SampleTimeout       time.Duration `envconfig:"MONITOR_SAMPLE_TIMEOUT" default:"3s" yaml:"sample_timeout"`
	EnforceLimitsByStop bool          `envconfig:"MONITOR_ENFORCE_LIMITS" default:"false" yaml:"enforce_limits_by_stop"`
}

// RestartConfig holds auto-restart policy configuration.
type RestartConfig struct {
	Enabled     bool          `envconfig:"RESTART_ENABLED" default:"true" yaml:"enabled"`
	MaxAttempts int           `envconfig:"RESTART_MAX_ATTEMPTS" default:"3" yaml:"max_attempts"`
	Interval    time.Duration `envconfig:"RESTART_INTERVAL" default:"5m" yaml:"interval"`
	Delay       time.Duration `envconfig:"RESTART_DELAY" default:"10s" yaml:"delay"`
	PollEvery   time.Duration `envconfig:"RESTART_POLL_EVERY" default:"60s" yaml:"poll_every"`
}

// RedisConfig holds profile store configuration.
type RedisConfig struct {
	Address  string `envconfig:"REDIS_ADDR" default:"localhost:6379" yaml:"address"`
	Password string `envconfig:"REDIS_PASSWORD" default:"" yaml:"password"`
	DB       int    `envconfig:"REDIS_DB" default:"0" yaml:"db"`
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"true" yaml:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables, optionally overlaid
// by a YAML file named in FLEET_CONFIG. File values win over environment
// values for the keys the file sets.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8700",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Worker: WorkerConfig{
			Binary:          "chromium",
			ProfileRoot:     "/var/lib/fleet/profiles",
			Headless:        true,
			LaunchTimeout:   30 * time.Second,
			StopGracePeriod: 5 * time.Second,
			DebugPortBase:   9400,
		},
		Monitor: MonitorConfig{
			SampleInterval:  30 * time.Second,
			HealthInterval:  60 * time.Second,
			SampleCacheTTL:  5 * time.Second,
			HistoryCap:      1000,
			AlertHistoryCap: 200,
			SampleTimeout:   3 * time.Second,
		},
		Restart: RestartConfig{
			Enabled:     true,
			MaxAttempts: 3,
			Interval:    5 * time.Minute,
			Delay:       10 * time.Second,
			PollEvery:   60 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
