package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Modbus transport modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

// Config is the root configuration structure for modbus2mqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Modbus   ModbusConfig   `yaml:"modbus"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
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
}

// ModbusConfig contains the field bus connection settings.
type ModbusConfig struct {
	// Mode selects the transport: "tcp" or "rtu".
	Mode string          `yaml:"mode"`
	TCP  ModbusTCPConfig `yaml:"tcp"`
	RTU  ModbusRTUConfig `yaml:"rtu"`

	// Timeout bounds each transport call and each wait for the bus (seconds).
	Timeout int `yaml:"timeout"`

	// IdleTimeout closes an unused connection after this many seconds.
	IdleTimeout int `yaml:"idle_timeout"`
}

// ModbusTCPConfig contains Modbus TCP gateway settings.
type ModbusTCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ModbusRTUConfig contains serial line settings for Modbus RTU.
type ModbusRTUConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"` // "N", "E" or "O"
	StopBits int    `yaml:"stop_bits"`
}

// BridgeConfig contains register polling and topic settings.
type BridgeConfig struct {
	// TopicPrefix is prepended to every topic, e.g. "modbus/".
	TopicPrefix string `yaml:"topic_prefix"`

	// RegistersFile is the CSV register table.
	RegistersFile string `yaml:"registers_file"`

	// AggregateJSON publishes one JSON object of changed values per sweep.
	AggregateJSON bool `yaml:"aggregate_json"`

	// Retain sets the retained flag on published register values.
	Retain bool `yaml:"retain"`

	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Domoticz      DomoticzConfig      `yaml:"domoticz"`
}

// HomeAssistantConfig controls MQTT discovery messages.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	NodeID          string `yaml:"node_id"`
}

// DomoticzConfig controls mirroring of values to the Domoticz MQTT input.
type DomoticzConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

// APIConfig contains HTTP status server settings.
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

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// Tags are added to every point, e.g. {site: garage}.
	Tags map[string]string `yaml:"tags"`
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
// Environment variables follow the pattern: MODBUS2MQTT_SECTION_KEY
// For example: MODBUS2MQTT_MQTT_HOST, MODBUS2MQTT_MODBUS_DEVICE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Modbus: ModbusConfig{
			Mode: ModeTCP,
			TCP: ModbusTCPConfig{
				Host: "localhost",
				Port: 502,
			},
			RTU: ModbusRTUConfig{
				Device:   "/dev/ttyUSB0",
				BaudRate: 9600,
				DataBits: 8,
				Parity:   "N",
				StopBits: 1,
			},
			Timeout:     5,
			IdleTimeout: 60,
		},
		Bridge: BridgeConfig{
			TopicPrefix:   "modbus/",
			RegistersFile: "configs/registers.csv",
			HomeAssistant: HomeAssistantConfig{
				DiscoveryPrefix: "homeassistant",
				NodeID:          "modbus2mqtt",
			},
			Domoticz: DomoticzConfig{
				Topic: "domoticz/in",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MODBUS2MQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MODBUS2MQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MODBUS2MQTT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MODBUS2MQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MODBUS2MQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Modbus
	if v := os.Getenv("MODBUS2MQTT_MODBUS_MODE"); v != "" {
		cfg.Modbus.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("MODBUS2MQTT_MODBUS_HOST"); v != "" {
		cfg.Modbus.TCP.Host = v
	}
	if v := os.Getenv("MODBUS2MQTT_MODBUS_DEVICE"); v != "" {
		cfg.Modbus.RTU.Device = v
	}

	// Bridge
	if v := os.Getenv("MODBUS2MQTT_TOPIC_PREFIX"); v != "" {
		cfg.Bridge.TopicPrefix = v
	}
	if v := os.Getenv("MODBUS2MQTT_REGISTERS_FILE"); v != "" {
		cfg.Bridge.RegistersFile = v
	}

	// InfluxDB
	if v := os.Getenv("MODBUS2MQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	errs = append(errs, c.validateModbus()...)

	// Bridge validation
	if c.Bridge.RegistersFile == "" {
		errs = append(errs, "bridge.registers_file is required")
	}
	if strings.ContainsAny(c.Bridge.TopicPrefix, "+#") {
		errs = append(errs, "bridge.topic_prefix must not contain MQTT wildcards")
	}
	if c.Bridge.HomeAssistant.Enabled && c.Bridge.HomeAssistant.DiscoveryPrefix == "" {
		errs = append(errs, "bridge.home_assistant.discovery_prefix is required when enabled")
	}
	if c.Bridge.Domoticz.Enabled && c.Bridge.Domoticz.Topic == "" {
		errs = append(errs, "bridge.domoticz.topic is required when enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateModbus() []string {
	var errs []string

	switch c.Modbus.Mode {
	case ModeTCP:
		if c.Modbus.TCP.Host == "" {
			errs = append(errs, "modbus.tcp.host is required in tcp mode")
		}
		if c.Modbus.TCP.Port < 1 || c.Modbus.TCP.Port > 65535 {
			errs = append(errs, "modbus.tcp.port must be between 1 and 65535")
		}
	case ModeRTU:
		if c.Modbus.RTU.Device == "" {
			errs = append(errs, "modbus.rtu.device is required in rtu mode")
		}
		if c.Modbus.RTU.BaudRate <= 0 {
			errs = append(errs, "modbus.rtu.baud_rate must be positive")
		}
		if c.Modbus.RTU.DataBits < 5 || c.Modbus.RTU.DataBits > 8 {
			errs = append(errs, "modbus.rtu.data_bits must be between 5 and 8")
		}
		switch c.Modbus.RTU.Parity {
		case "N", "E", "O":
		default:
			errs = append(errs, "modbus.rtu.parity must be N, E or O")
		}
		if c.Modbus.RTU.StopBits != 1 && c.Modbus.RTU.StopBits != 2 {
			errs = append(errs, "modbus.rtu.stop_bits must be 1 or 2")
		}
	default:
		errs = append(errs, fmt.Sprintf("modbus.mode %q must be %q or %q", c.Modbus.Mode, ModeTCP, ModeRTU))
	}

	if c.Modbus.Timeout <= 0 {
		errs = append(errs, "modbus.timeout must be positive")
	}

	return errs
}

// GetModbusTimeout returns the transport timeout as a Duration.
func (c *Config) GetModbusTimeout() time.Duration {
	return time.Duration(c.Modbus.Timeout) * time.Second
}

// GetModbusIdleTimeout returns the transport idle timeout as a Duration.
func (c *Config) GetModbusIdleTimeout() time.Duration {
	return time.Duration(c.Modbus.IdleTimeout) * time.Second
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
