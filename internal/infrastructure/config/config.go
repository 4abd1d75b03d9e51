package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Console Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Roles    RolesConfig    `yaml:"roles"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// IdentityConfig contains identity service connection settings.
type IdentityConfig struct {
	// BaseURL is the identity API root (e.g., "https://iot.example.com/api/identity").
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// APIConfig contains system (entity) API connection settings.
type APIConfig struct {
	// BaseURL is the system API root (e.g., "https://iot.example.com/api/system").
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// RealtimeConfig contains realtime channel settings.
type RealtimeConfig struct {
	// URL is the realtime hub endpoint. For the websocket transport this is a
	// ws:// or wss:// URL; for the mqtt transport a tcp:// or ssl:// broker URL.
	URL string `yaml:"url"`

	// Transport selects the realtime transport: "websocket" or "mqtt".
	Transport string `yaml:"transport"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// PingInterval is the websocket keepalive ping interval in seconds.
	PingInterval int `yaml:"ping_interval"`

	// PongTimeout is how long to wait for a pong before the connection
	// is considered dead, in seconds.
	PongTimeout int `yaml:"pong_timeout"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// ReconnectConfig contains reconnection backoff settings.
type ReconnectConfig struct {
	// InitialDelay is the first retry delay in seconds. Doubled on each
	// failed attempt up to MaxDelay.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the backoff delay in seconds.
	MaxDelay int `yaml:"max_delay"`

	// MaxAttempts limits reconnection attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// MQTTConfig contains settings specific to the MQTT realtime transport.
type MQTTConfig struct {
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

// RolesConfig contains the role hierarchy settings.
type RolesConfig struct {
	// Priorities maps role name to an integer priority. Higher wins.
	// Unknown roles resolve to priority 0. Empty map falls back to the
	// built-in defaults.
	Priorities map[string]int `yaml:"priorities"`

	// Protected lists role names that can never be renamed or deleted,
	// regardless of priority. Empty falls back to the built-in defaults.
	Protected []string `yaml:"protected"`
}

// ArchiveConfig contains measurement archive (InfluxDB) settings.
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CONSOLE_SECTION_KEY
// For example: CONSOLE_IDENTITY_BASE_URL, CONSOLE_REALTIME_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			BaseURL: "http://localhost:8080/api/identity",
			Timeout: 15,
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/system",
			Timeout: 15,
		},
		Realtime: RealtimeConfig{
			URL:       "ws://localhost:8080/hubs/iot",
			Transport: "websocket",
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				MaxAttempts:  0,
			},
			PingInterval: 30,
			PongTimeout:  10,
			MQTT: MQTTConfig{
				ClientID: "console-core",
				QoS:      1,
			},
		},
		Roles: RolesConfig{},
		Archive: ArchiveConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Bucket:        "measurements",
			BatchSize:     100,
			FlushInterval: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CONSOLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Identity / API endpoints
	if v := os.Getenv("CONSOLE_IDENTITY_BASE_URL"); v != "" {
		cfg.Identity.BaseURL = v
	}
	if v := os.Getenv("CONSOLE_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}

	// Realtime
	if v := os.Getenv("CONSOLE_REALTIME_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("CONSOLE_REALTIME_TRANSPORT"); v != "" {
		cfg.Realtime.Transport = v
	}
	if v := os.Getenv("CONSOLE_REALTIME_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Realtime.Reconnect.MaxAttempts = n
		}
	}

	// Archive
	if v := os.Getenv("CONSOLE_ARCHIVE_TOKEN"); v != "" {
		cfg.Archive.Token = v
	}

	// Logging
	if v := os.Getenv("CONSOLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Identity.BaseURL == "" {
		errs = append(errs, "identity.base_url is required")
	}
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	}

	if c.Realtime.URL == "" {
		errs = append(errs, "realtime.url is required")
	}
	switch c.Realtime.Transport {
	case "websocket", "mqtt":
	default:
		errs = append(errs, "realtime.transport must be \"websocket\" or \"mqtt\"")
	}
	if c.Realtime.Reconnect.InitialDelay < 1 {
		errs = append(errs, "realtime.reconnect.initial_delay must be at least 1 second")
	}
	if c.Realtime.Reconnect.MaxDelay < c.Realtime.Reconnect.InitialDelay {
		errs = append(errs, "realtime.reconnect.max_delay must be >= initial_delay")
	}
	if c.Realtime.MQTT.QoS < 0 || c.Realtime.MQTT.QoS > 2 {
		errs = append(errs, "realtime.mqtt.qos must be 0, 1, or 2")
	}

	for name, prio := range c.Roles.Priorities {
		if prio < 0 {
			errs = append(errs, fmt.Sprintf("roles.priorities.%s must not be negative", name))
		}
	}

	if c.Archive.Enabled {
		if c.Archive.URL == "" {
			errs = append(errs, "archive.url is required when archive is enabled")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive.bucket is required when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetTimeout returns the identity request timeout as a Duration.
func (c IdentityConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetTimeout returns the system API request timeout as a Duration.
func (c APIConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetInitialDelay returns the reconnect initial delay as a Duration.
func (r ReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect delay cap as a Duration.
func (r ReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}
