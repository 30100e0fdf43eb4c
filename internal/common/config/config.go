// Package config provides configuration management for the trap supervisor.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the supervisor.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	API      APIConfig      `mapstructure:"api"`
	WorkLoop WorkLoopConfig `mapstructure:"workLoop"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database configuration. SQLite is the default store;
// Path is the database file, or ":memory:" for tests.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// GatewayConfig holds the agent gateway RPC endpoint configuration.
type GatewayConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Token   string `mapstructure:"token"`
	HTTPURL string `mapstructure:"httpUrl"` // full URL override; takes precedence over host/port
	Timeout int    `mapstructure:"timeout"` // RPC timeout in seconds
}

// APIConfig holds the HTTP API endpoint agents and the supervisor both reach.
type APIConfig struct {
	BaseURL string `mapstructure:"baseUrl"`
	Timeout int    `mapstructure:"timeout"` // in seconds
}

// WorkLoopConfig holds cycle scheduling and admission control configuration.
type WorkLoopConfig struct {
	TickInterval        int `mapstructure:"tickInterval"`        // seconds between scheduler ticks
	MaxAgentsGlobal     int `mapstructure:"maxAgentsGlobal"`     // across all projects
	MaxAgentsPerProject int `mapstructure:"maxAgentsPerProject"` // per project
	MaxDevAgents        int `mapstructure:"maxDevAgents"`        // role=dev
	MaxReviewerAgents   int `mapstructure:"maxReviewerAgents"`   // role=reviewer
	ReapCooldown        int `mapstructure:"reapCooldown"`        // seconds before the same (task, role) may respawn
	GhostGrace          int `mapstructure:"ghostGrace"`          // seconds before a session-less in_progress task is a ghost
	StuckThreshold      int `mapstructure:"stuckThreshold"`      // seconds before an in_progress task counts as stuck
	ShutdownGrace       int `mapstructure:"shutdownGrace"`       // seconds to wait for in-flight cycles on shutdown
}

// WorktreeConfig holds git worktree cleanup configuration.
type WorktreeConfig struct {
	RemoveTimeout int `mapstructure:"removeTimeout"` // seconds for git worktree remove
	GitTimeout    int `mapstructure:"gitTimeout"`    // seconds for short git/gh invocations
}

// BrowserConfig holds the local browser-control endpoint used for best-effort
// tab cleanup.
type BrowserConfig struct {
	ControlURL string `mapstructure:"controlUrl"`
	Timeout    int    `mapstructure:"timeout"` // in seconds
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

// TimeoutDuration returns the RPC timeout as a time.Duration.
func (g *GatewayConfig) TimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// URL returns the gateway RPC endpoint URL.
func (g *GatewayConfig) URL() string {
	if g.HTTPURL != "" {
		return g.HTTPURL
	}
	return fmt.Sprintf("http://%s:%d", g.Host, g.Port)
}

// TickIntervalDuration returns the scheduler tick interval as a time.Duration.
func (w *WorkLoopConfig) TickIntervalDuration() time.Duration {
	return time.Duration(w.TickInterval) * time.Second
}

// ReapCooldownDuration returns the recently-reaped cooldown as a time.Duration.
func (w *WorkLoopConfig) ReapCooldownDuration() time.Duration {
	return time.Duration(w.ReapCooldown) * time.Second
}

// GhostGraceDuration returns the ghost grace window as a time.Duration.
func (w *WorkLoopConfig) GhostGraceDuration() time.Duration {
	return time.Duration(w.GhostGrace) * time.Second
}

// StuckThresholdDuration returns the stuck-task threshold as a time.Duration.
func (w *WorkLoopConfig) StuckThresholdDuration() time.Duration {
	return time.Duration(w.StuckThreshold) * time.Second
}

// ShutdownGraceDuration returns the shutdown grace as a time.Duration.
func (w *WorkLoopConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(w.ShutdownGrace) * time.Second
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TRAP_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.path", "trap.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "trap-supervisor")
	v.SetDefault("nats.maxReconnects", 10)

	// Gateway defaults
	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.httpUrl", "")
	v.SetDefault("gateway.timeout", 10)

	// API defaults
	v.SetDefault("api.baseUrl", "http://localhost:3000")
	v.SetDefault("api.timeout", 10)

	// Work loop defaults
	v.SetDefault("workLoop.tickInterval", 5)
	v.SetDefault("workLoop.maxAgentsGlobal", 6)
	v.SetDefault("workLoop.maxAgentsPerProject", 3)
	v.SetDefault("workLoop.maxDevAgents", 4)
	v.SetDefault("workLoop.maxReviewerAgents", 2)
	v.SetDefault("workLoop.reapCooldown", 60)
	v.SetDefault("workLoop.ghostGrace", 120)
	v.SetDefault("workLoop.stuckThreshold", 7200)
	v.SetDefault("workLoop.shutdownGrace", 30)

	// Worktree defaults
	v.SetDefault("worktree.removeTimeout", 30)
	v.SetDefault("worktree.gitTimeout", 10)

	// Browser defaults - empty URL disables tab cleanup
	v.SetDefault("browser.controlUrl", "")
	v.SetDefault("browser.timeout", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix TRAP_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TRAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names predate the TRAP_ prefix.
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("gateway.host", "OPENCLAW_HOST", "TRAP_GATEWAY_HOST")
	_ = v.BindEnv("gateway.port", "OPENCLAW_PORT", "TRAP_GATEWAY_PORT")
	_ = v.BindEnv("gateway.token", "OPENCLAW_TOKEN", "TRAP_GATEWAY_TOKEN")
	_ = v.BindEnv("gateway.httpUrl", "OPENCLAW_HTTP_URL", "TRAP_GATEWAY_HTTP_URL")
	_ = v.BindEnv("api.baseUrl", "TRAP_URL", "TRAP_API_BASE_URL")
	_ = v.BindEnv("workLoop.tickInterval", "TRAP_WORK_LOOP_TICK_INTERVAL")
	_ = v.BindEnv("workLoop.reapCooldown", "TRAP_WORK_LOOP_REAP_COOLDOWN")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/trap/")

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
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if cfg.Gateway.HTTPURL == "" {
		if cfg.Gateway.Host == "" {
			errs = append(errs, "gateway.host is required when gateway.httpUrl is not set")
		}
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			errs = append(errs, "gateway.port must be between 1 and 65535")
		}
	}
	if cfg.WorkLoop.TickInterval <= 0 {
		errs = append(errs, "workLoop.tickInterval must be positive")
	}
	if cfg.WorkLoop.MaxAgentsGlobal <= 0 {
		errs = append(errs, "workLoop.maxAgentsGlobal must be positive")
	}
	if cfg.WorkLoop.MaxAgentsPerProject <= 0 {
		errs = append(errs, "workLoop.maxAgentsPerProject must be positive")
	}
	if cfg.WorkLoop.ReapCooldown < 0 {
		errs = append(errs, "workLoop.reapCooldown must not be negative")
	}

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
