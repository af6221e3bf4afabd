// ABOUTME: YAML configuration with environment expansion and validation
// ABOUTME: Durations are written as strings like "30m" or "48h"

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "INTAKE_CONFIG"

// Duration wraps time.Duration for YAML string parsing.
type Duration time.Duration

// UnmarshalYAML parses "1h30m" style strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig covers the control-surface HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// AuthSecret enables JWT bearer auth on /api/ when non-empty.
	AuthSecret string `yaml:"auth_secret"`
}

// StorageConfig covers the SQLite store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig selects handler and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig tunes the event loop safeguards.
type GatewayConfig struct {
	MaxChainDepth      int      `yaml:"max_chain_depth"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	MaxMessageLength   int      `yaml:"max_message_length"`
	DedupeTTL          Duration `yaml:"dedupe_ttl"`
}

// QueueConfig tunes the per-patient workers.
type QueueConfig struct {
	IdleTTL Duration `yaml:"idle_ttl"`
	Depth   int      `yaml:"depth"`
}

// HeartbeatConfig tunes the scheduler.
type HeartbeatConfig struct {
	CheckInterval   Duration `yaml:"check_interval"`
	MilestoneDays   []int    `yaml:"milestone_days"`
	GPReminderAfter Duration `yaml:"gp_reminder_after"`
}

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Queue     QueueConfig     `yaml:"queue"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{ListenAddr: ":8080"},
		Storage: StorageConfig{DatabasePath: "intake.db"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Gateway: GatewayConfig{
			MaxChainDepth:      10,
			RateLimitPerMinute: 5,
			MaxMessageLength:   10000,
			DedupeTTL:          Duration(10 * time.Minute),
		},
		Queue: QueueConfig{
			IdleTTL: Duration(30 * time.Minute),
			Depth:   256,
		},
		Heartbeat: HeartbeatConfig{
			CheckInterval:   Duration(time.Hour),
			MilestoneDays:   []int{14, 30, 60, 90},
			GPReminderAfter: Duration(48 * time.Hour),
		},
	}
}

// Load reads the YAML file at path, expanding ${VAR} references from
// the environment before parsing. Missing variables expand to empty.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	expanded := os.Expand(string(raw), os.Getenv)

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads the path named by INTAKE_CONFIG, or defaults when
// it is unset.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Gateway.MaxChainDepth < 1 {
		return fmt.Errorf("gateway.max_chain_depth must be at least 1, got %d", c.Gateway.MaxChainDepth)
	}
	if c.Gateway.RateLimitPerMinute < 1 {
		return fmt.Errorf("gateway.rate_limit_per_minute must be at least 1, got %d", c.Gateway.RateLimitPerMinute)
	}
	if c.Gateway.MaxMessageLength < 1 {
		return fmt.Errorf("gateway.max_message_length must be at least 1, got %d", c.Gateway.MaxMessageLength)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	for _, d := range c.Heartbeat.MilestoneDays {
		if d < 1 {
			return fmt.Errorf("heartbeat.milestone_days entries must be positive, got %d", d)
		}
	}
	return nil
}
