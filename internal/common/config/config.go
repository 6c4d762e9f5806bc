// Package config provides configuration management for swarmd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for swarmd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	App       AppConfig       `mapstructure:"app"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the embedded SQLite configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file. Parent directories are created on boot.
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds API authentication configuration.
// An empty APIKey disables bearer auth (development mode).
type AuthConfig struct {
	APIKey string `mapstructure:"apiKey"`
}

// AppConfig holds settings for the dashboard the kernel links back to.
type AppConfig struct {
	// URL is the public base URL of the dashboard, used to build deep links
	// embedded in triggers and channel notifications. Empty disables links.
	URL string `mapstructure:"url"`
}

// SchedulerConfig holds scheduled-task engine configuration.
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TickInterval int    `mapstructure:"tickInterval"` // in seconds
	SeedFile     string `mapstructure:"seedFile"`     // optional YAML schedule seed
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TickIntervalDuration returns the scheduler tick interval as a time.Duration.
func (s *SchedulerConfig) TickIntervalDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("SWARM_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.path", "./agent-swarm-db.sqlite")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults - empty key disables bearer auth
	v.SetDefault("auth.apiKey", "")

	// App defaults - empty URL disables deep links
	v.SetDefault("app.url", "")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tickInterval", 10)
	v.SetDefault("scheduler.seedFile", "")

	// MCP defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SWARM_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/swarmd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the bare env vars agents and deploy scripts use.
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("database.path", "DATABASE_PATH", "SWARM_DATABASE_PATH")
	_ = v.BindEnv("server.port", "PORT", "SWARM_SERVER_PORT")
	_ = v.BindEnv("auth.apiKey", "API_KEY", "SWARM_AUTH_API_KEY")
	_ = v.BindEnv("app.url", "APP_URL", "SWARM_APP_URL")
	_ = v.BindEnv("nats.url", "NATS_URL", "SWARM_NATS_URL")
	_ = v.BindEnv("mcp.port", "SWARM_MCP_PORT")
	_ = v.BindEnv("scheduler.tickInterval", "SWARM_SCHEDULER_TICK_INTERVAL")
	_ = v.BindEnv("scheduler.seedFile", "SWARM_SCHEDULER_SEED_FILE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/swarmd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation - the kernel cannot run without a store
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	// Scheduler validation
	if cfg.Scheduler.Enabled && cfg.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler.tickInterval must be positive")
	}

	// MCP validation
	if cfg.MCP.Enabled && (cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535) {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
