package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
gateway:
  id: "test-gateway"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
  qos: 1
bridge:
  allow_device_subscriptions: false
  rate_limit: 5
  rate_burst: 5
things:
  - id: dummy
    transport: simulated
  - id: esp32
    transport: ble
    address: "24:0A:C4:00:00:01"
  - id: bench
    transport: socket
    address: "tcp://127.0.0.1:7000"
    enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "test-gateway" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "test-gateway")
	}
	if cfg.MQTT.Broker.Host != "broker.local" || !cfg.MQTT.Broker.TLS {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.Bridge.AllowDeviceSubscriptions {
		t.Error("Bridge.AllowDeviceSubscriptions = true, want false from file")
	}
	if len(cfg.Things) != 3 {
		t.Fatalf("len(Things) = %d, want 3", len(cfg.Things))
	}

	dummy := cfg.Things[0]
	if dummy.Simulated.Interval != 5000 || dummy.Simulated.Topic != "proxy/test" {
		t.Errorf("simulated defaults not applied: %+v", dummy.Simulated)
	}
	if dummy.Name != "dummy" {
		t.Errorf("Name = %q, want defaulted to ID", dummy.Name)
	}

	esp := cfg.Things[1]
	if esp.BLE.ServiceUUID != DefaultBLEServiceUUID || esp.BLE.CharacteristicUUID != DefaultBLECharacteristicUUID {
		t.Errorf("ble uuids not defaulted: %+v", esp.BLE)
	}
	if esp.BLE.MTU != 64 || esp.BLE.PollInterval != 5000 {
		t.Errorf("ble mtu/poll not defaulted: %+v", esp.BLE)
	}

	bench := cfg.Things[2]
	if bench.IsEnabled() {
		t.Error("bench.IsEnabled() = true, want false")
	}
	if !esp.IsEnabled() {
		t.Error("esp.IsEnabled() = false, want true by default")
	}
	if bench.Socket.ReconnectMax != 60 {
		t.Errorf("socket defaults not applied: %+v", bench.Socket)
	}

	if _, ok := cfg.Thing("esp32"); !ok {
		t.Error("Thing(esp32) not found")
	}
	if _, ok := cfg.Thing("missing"); ok {
		t.Error("Thing(missing) found")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
gateway:
  id: ""
things:
  - id: x
    transport: zigbee
`))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"gateway.id is required", `things[0].transport "zigbee"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Things = []ThingConfig{{ID: "dummy", Transport: TransportSimulated}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "qos 2 not supported", mutate: func(c *Config) { c.MQTT.QoS = 2 }, wantErr: true},
		{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "bad api port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "bad api port ignored when disabled", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "negative rate limit", mutate: func(c *Config) { c.Bridge.RateLimit = -1 }, wantErr: true},
		{name: "rate limit without burst", mutate: func(c *Config) { c.Bridge.RateBurst = 0 }, wantErr: true},
		{name: "rate limit disabled without burst", mutate: func(c *Config) { c.Bridge.RateLimit = 0; c.Bridge.RateBurst = 0 }},
		{
			name: "duplicate thing id",
			mutate: func(c *Config) {
				c.Things = append(c.Things, ThingConfig{ID: "dummy", Transport: TransportSimulated})
			},
			wantErr: true,
		},
		{
			name: "socket without scheme",
			mutate: func(c *Config) {
				c.Things = append(c.Things, ThingConfig{ID: "s", Transport: TransportSocket, Address: "127.0.0.1:7000"})
			},
			wantErr: true,
		},
		{
			name: "unix socket",
			mutate: func(c *Config) {
				c.Things = append(c.Things, ThingConfig{ID: "s", Transport: TransportSocket, Address: "unix:///run/thing.sock"})
			},
		},
		{
			name: "ble without address",
			mutate: func(c *Config) {
				c.Things = append(c.Things, ThingConfig{ID: "b", Transport: TransportBLE, BLE: BLEConfig{MTU: 64}})
			},
			wantErr: true,
		},
		{
			name: "thing without id",
			mutate: func(c *Config) {
				c.Things = append(c.Things, ThingConfig{Transport: TransportSimulated})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Bridge: BridgeConfig{HealthInterval: 15},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetHealthInterval().Seconds(); got != 15 {
		t.Errorf("GetHealthInterval() = %v, want 15", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("THINGBRIDGE_GATEWAY_ID", "gw-env")
	t.Setenv("THINGBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("THINGBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("THINGBRIDGE_MQTT_PORT", "8883")
	t.Setenv("THINGBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("THINGBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("THINGBRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("THINGBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("THINGBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Gateway.ID", cfg.Gateway.ID, "gw-env"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("THINGBRIDGE_MQTT_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.ID == "" {
		t.Error("defaultConfig should have non-empty Gateway.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if !cfg.Bridge.AllowDeviceSubscriptions {
		t.Error("defaultConfig should allow device subscriptions")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
}
