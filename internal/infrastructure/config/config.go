package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Fibaro bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Registry  RegistryConfig  `yaml:"registry"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Health    HealthConfig    `yaml:"health"`
}

// HubConfig contains Home Center connection settings.
type HubConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Timing HubTimingConfig `yaml:"timing"`
}

// HubTimingConfig contains the fixed reconnect and polling delays.
// The hub is polled with deliberate fixed delays, not exponential backoff;
// the values here exist so tests can shrink them, not so operators can tune a curve.
type HubTimingConfig struct {
	// InitialFetchDelay is the pause after the command channel connects
	// before the full device sweep starts.
	InitialFetchDelay time.Duration `yaml:"initial_fetch_delay"`

	// RefreshStartDelay is the pause after the command channel connects
	// before the refresh channel is brought up.
	RefreshStartDelay time.Duration `yaml:"refresh_start_delay"`

	// CommandRetryDelay is applied after a command channel disconnect.
	CommandRetryDelay time.Duration `yaml:"command_retry_delay"`

	// CommandDialRetryDelay is applied after a failed command channel dial.
	CommandDialRetryDelay time.Duration `yaml:"command_dial_retry_delay"`

	// RefreshDialRetryDelay is applied after a failed refresh channel dial.
	RefreshDialRetryDelay time.Duration `yaml:"refresh_dial_retry_delay"`

	// RefreshRestartDelay is applied after a refresh channel error before
	// the cycle restarts.
	RefreshRestartDelay time.Duration `yaml:"refresh_restart_delay"`

	// PollTimeout bounds a single long-poll round trip.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// PollRearmDelay is the pause between a poll response and the next poll.
	PollRearmDelay time.Duration `yaml:"poll_rearm_delay"`
}

// RegistryConfig describes the room/slot layout of controllable entities.
type RegistryConfig struct {
	MaxRooms         int          `yaml:"max_rooms"`
	MaxLightsPerRoom int          `yaml:"max_lights_per_room"`
	MaxScenesPerRoom int          `yaml:"max_scenes_per_room"`
	Rooms            []RoomConfig `yaml:"rooms"`
}

// RoomConfig maps one room's light and scene slots to hub IDs.
type RoomConfig struct {
	Room   int          `yaml:"room"`
	Name   string       `yaml:"name"`
	Lights []SlotConfig `yaml:"lights"`
	Scenes []SlotConfig `yaml:"scenes"`
}

// SlotConfig binds one slot within a room to a hub entity.
// A slot participates only when enabled and the hub ID is non-zero.
type SlotConfig struct {
	Slot    int    `yaml:"slot"`
	Enabled bool   `yaml:"enabled"`
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Dimmer  bool   `yaml:"dimmer"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
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

// HealthConfig contains periodic health reporting settings.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIBAROBRIDGE_SECTION_KEY
// For example: FIBAROBRIDGE_HUB_HOST, FIBAROBRIDGE_HUB_PASSWORD
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Hub timing defaults match the Home Center's expected pacing.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Port: 80,
			Timing: HubTimingConfig{
				InitialFetchDelay:     1 * time.Second,
				RefreshStartDelay:     2 * time.Second,
				CommandRetryDelay:     5 * time.Second,
				CommandDialRetryDelay: 10 * time.Second,
				RefreshDialRetryDelay: 1 * time.Second,
				RefreshRestartDelay:   3 * time.Second,
				PollTimeout:           30 * time.Second,
				PollRearmDelay:        50 * time.Millisecond,
			},
		},
		Registry: RegistryConfig{
			MaxRooms:         20,
			MaxLightsPerRoom: 20,
			MaxScenesPerRoom: 20,
		},
		Database: DatabaseConfig{
			Path:        "./data/fibaro-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fibaro-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIBAROBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("FIBAROBRIDGE_HUB_HOST"); v != "" {
		cfg.Hub.Host = v
	}
	if v := os.Getenv("FIBAROBRIDGE_HUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Hub.Port = port
		}
	}
	if v := os.Getenv("FIBAROBRIDGE_HUB_USERNAME"); v != "" {
		cfg.Hub.Username = v
	}
	if v := os.Getenv("FIBAROBRIDGE_HUB_PASSWORD"); v != "" {
		cfg.Hub.Password = v
	}

	// Database
	if v := os.Getenv("FIBAROBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FIBAROBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIBAROBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIBAROBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FIBAROBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FIBAROBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.Host == "" {
		errs = append(errs, "hub.host is required")
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		errs = append(errs, "hub.port must be between 1 and 65535")
	}
	if c.Hub.Username == "" {
		errs = append(errs, "hub.username is required")
	}
	if c.Hub.Password == "" {
		errs = append(errs, "hub.password is required (set FIBAROBRIDGE_HUB_PASSWORD environment variable)")
	}

	// Registry validation
	if c.Registry.MaxRooms < 1 {
		errs = append(errs, "registry.max_rooms must be at least 1")
	}
	if c.Registry.MaxLightsPerRoom < 1 {
		errs = append(errs, "registry.max_lights_per_room must be at least 1")
	}
	if c.Registry.MaxScenesPerRoom < 1 {
		errs = append(errs, "registry.max_scenes_per_room must be at least 1")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HubAddress returns the hub's host:port dial address.
func (c *Config) HubAddress() string {
	return fmt.Sprintf("%s:%d", c.Hub.Host, c.Hub.Port)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
