package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported thing transports.
const (
	TransportSimulated = "simulated"
	TransportSocket    = "socket"
	TransportBLE       = "ble"
)

// Default GATT identifiers of the ESP32 proxy firmware.
const (
	DefaultBLEServiceUUID        = "000000ee-0000-1000-8000-00805f9b34fb"
	DefaultBLECharacteristicUUID = "0000ee01-0000-1000-8000-00805f9b34fb"
	DefaultBLEMTU                = 64
)

// Config is the root configuration structure for thingbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Things    []ThingConfig   `yaml:"things"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays prunes link state history older than this.
	// Zero keeps history forever.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// Each thing opens its own MQTT session. The client ID is the thing ID,
// optionally prefixed with Broker.ClientIDPrefix.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings handed to the
// MQTT client library.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
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

// BridgeConfig contains settings shared by every thing bridge.
type BridgeConfig struct {
	// AllowDeviceSubscriptions lets devices send Sub/Unsub frames that the
	// gateway carries out on their behalf. When false those frames are dropped.
	AllowDeviceSubscriptions bool `yaml:"allow_device_subscriptions"`

	// RateLimit is the sustained number of frames per second accepted from
	// one device. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst size for RateLimit.
	RateBurst int `yaml:"rate_burst"`

	// HealthInterval is how often gateway health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`

	// TopicPrefix is prepended to gateway status topics.
	TopicPrefix string `yaml:"topic_prefix"`
}

// ThingConfig describes one bridged thing.
type ThingConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`
	Enabled   *bool  `yaml:"enabled"`

	// Address is the transport address: "tcp://host:port" or
	// "unix:///path" for socket things, a MAC or platform UUID for BLE.
	Address string `yaml:"address"`

	Simulated SimulatedConfig `yaml:"simulated"`
	BLE       BLEConfig       `yaml:"ble"`
	Socket    SocketConfig    `yaml:"socket"`
}

// IsEnabled reports whether the thing should be started. Things are
// enabled unless explicitly disabled.
func (t ThingConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// SimulatedConfig configures the simulated thing.
type SimulatedConfig struct {
	// Interval between readings in milliseconds.
	Interval int    `yaml:"interval"`
	Topic    string `yaml:"topic"`
	Body     string `yaml:"body"`
}

// BLEConfig configures a Bluetooth LE thing.
type BLEConfig struct {
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`

	// PollInterval between characteristic reads in milliseconds.
	PollInterval int `yaml:"poll_interval"`
	MTU          int `yaml:"mtu"`
}

// SocketConfig configures a TCP or unix-socket thing.
type SocketConfig struct {
	// ConnectTimeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectInitial and ReconnectMax bound the reconnect backoff, in seconds.
	ReconnectInitial int `yaml:"reconnect_initial"`
	ReconnectMax     int `yaml:"reconnect_max"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: THINGBRIDGE_SECTION_KEY
// For example: THINGBRIDGE_DATABASE_PATH, THINGBRIDGE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyThingDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "gateway-001",
			Name: "thingbridge",
		},
		Database: DatabaseConfig{
			Path:                 "./data/thingbridge.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
		Bridge: BridgeConfig{
			AllowDeviceSubscriptions: true,
			RateLimit:                10,
			RateBurst:                20,
			HealthInterval:           30,
			TopicPrefix:              "thingbridge",
		},
	}
}

// applyThingDefaults fills per-transport defaults that YAML left empty.
func applyThingDefaults(cfg *Config) {
	for i := range cfg.Things {
		t := &cfg.Things[i]
		if t.Name == "" {
			t.Name = t.ID
		}
		switch t.Transport {
		case TransportSimulated:
			if t.Simulated.Interval == 0 {
				t.Simulated.Interval = 5000
			}
			if t.Simulated.Topic == "" {
				t.Simulated.Topic = "proxy/test"
			}
			if t.Simulated.Body == "" {
				t.Simulated.Body = "name:dummy;temp:25.56;bat:98%"
			}
		case TransportBLE:
			if t.BLE.ServiceUUID == "" {
				t.BLE.ServiceUUID = DefaultBLEServiceUUID
			}
			if t.BLE.CharacteristicUUID == "" {
				t.BLE.CharacteristicUUID = DefaultBLECharacteristicUUID
			}
			if t.BLE.PollInterval == 0 {
				t.BLE.PollInterval = 5000
			}
			if t.BLE.MTU == 0 {
				t.BLE.MTU = DefaultBLEMTU
			}
		case TransportSocket:
			if t.Socket.ConnectTimeout == 0 {
				t.Socket.ConnectTimeout = 10
			}
			if t.Socket.ReconnectInitial == 0 {
				t.Socket.ReconnectInitial = 1
			}
			if t.Socket.ReconnectMax == 0 {
				t.Socket.ReconnectMax = 60
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: THINGBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THINGBRIDGE_GATEWAY_ID"); v != "" {
		cfg.Gateway.ID = v
	}

	// Database
	if v := os.Getenv("THINGBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("THINGBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("THINGBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("THINGBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("THINGBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("THINGBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("THINGBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("THINGBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		errs = append(errs, "mqtt.qos must be 0 or 1")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Bridge.RateLimit < 0 {
		errs = append(errs, "bridge.rate_limit must not be negative")
	}
	if c.Bridge.RateLimit > 0 && c.Bridge.RateBurst < 1 {
		errs = append(errs, "bridge.rate_burst must be at least 1 when rate_limit is set")
	}

	seen := make(map[string]bool, len(c.Things))
	for i, t := range c.Things {
		prefix := fmt.Sprintf("things[%d]", i)
		if t.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, t.ID))
		}
		seen[t.ID] = true

		switch t.Transport {
		case TransportSimulated:
		case TransportSocket:
			if !strings.HasPrefix(t.Address, "tcp://") && !strings.HasPrefix(t.Address, "unix://") {
				errs = append(errs, prefix+".address must start with tcp:// or unix://")
			}
		case TransportBLE:
			if t.Address == "" {
				errs = append(errs, prefix+".address is required for ble things")
			}
			if t.BLE.MTU < 3 { //nolint:mnd // ATT header is 3 bytes
				errs = append(errs, prefix+".ble.mtu must be at least 3")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.transport %q must be one of simulated, socket, ble", prefix, t.Transport))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetHealthInterval returns the bridge health publish interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// Thing returns the configuration for the thing with the given ID.
func (c *Config) Thing(id string) (ThingConfig, bool) {
	for _, t := range c.Things {
		if t.ID == id {
			return t, true
		}
	}
	return ThingConfig{}, false
}
