package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the AMY telemetry core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	DataFlow  DataFlowConfig  `yaml:"dataflow"`
	Writer    WriterConfig    `yaml:"writer"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Listener  ListenerConfig  `yaml:"listener"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings shared by the three
// family listeners. Each listener derives its own client ID from ClientPrefix.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	ClientPrefix string `yaml:"client_prefix"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// Delays are in seconds; MaxAttempts of 0 means retry forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains MongoDB connection settings.
type DatabaseConfig struct {
	URI       string `yaml:"uri"`
	Name      string `yaml:"name"`
	AuditName string `yaml:"audit_name"`

	// Pool bounds for the shared client (defaults 10/50).
	MinPoolSize int `yaml:"min_pool_size"`
	MaxPoolSize int `yaml:"max_pool_size"`

	// OpTimeout is the per-operation timeout in seconds.
	OpTimeout int `yaml:"op_timeout"`
}

// DataFlowConfig contains data-flow event emitter settings.
type DataFlowConfig struct {
	// CollectorURL is the HTTP endpoint of the external event collector.
	// Empty disables the POST hop.
	CollectorURL string `yaml:"collector_url"`

	RingBufferSize  int `yaml:"ring_buffer_size"`
	ChannelCapacity int `yaml:"channel_capacity"`

	// ReplayCount is how many buffered events a new WebSocket subscriber
	// receives on connect.
	ReplayCount int `yaml:"replay_count"`
}

// WriterConfig contains canonical writer settings.
type WriterConfig struct {
	MaxRetries        int `yaml:"max_retries"`
	ProtocolTimeout   int `yaml:"protocol_timeout"`
	PerPatientStripes int `yaml:"per_patient_stripes"`
}

// ResolverConfig contains patient resolver settings.
type ResolverConfig struct {
	// CacheTTL is the device-identity cache lifetime in seconds. 0 disables the cache.
	CacheTTL int `yaml:"cache_ttl"`
}

// ListenerConfig contains listener runtime settings.
type ListenerConfig struct {
	// WorkerPool is the per-listener handler pool size. 0 means 4 x CPU cores.
	WorkerPool int `yaml:"worker_pool"`

	// KatiTimezone is the IANA zone used to interpret Kati timestamp strings.
	// Empty means UTC.
	KatiTimezone string `yaml:"kati_timezone"`
}

// ShutdownConfig contains graceful shutdown settings.
type ShutdownConfig struct {
	// Drain is the in-flight handler drain deadline in seconds.
	Drain int `yaml:"drain"`

	// EventFlush is the data-flow channel flush deadline in seconds.
	EventFlush int `yaml:"event_flush"`
}

// APIConfig contains monitoring HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket fan-out settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// SendBuffer is the per-subscriber outbound buffer; the oldest undelivered
	// frame is dropped when it overflows.
	SendBuffer int `yaml:"send_buffer"`

	// SendTimeout is the per-frame write deadline in seconds. A subscriber
	// that cannot take a frame within it is disconnected.
	SendTimeout int `yaml:"send_timeout"`
}

// InfluxDBConfig contains the optional pipeline metrics sink settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AMYCORE_SECTION_KEY
// For example: AMYCORE_DATABASE_URI, AMYCORE_MQTT_HOST
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

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:         "localhost",
				Port:         1883,
				ClientPrefix: "amy-core",
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			URI:         "mongodb://localhost:27017",
			Name:        "AMY",
			AuditName:   "AMY_audit",
			MinPoolSize: 10,
			MaxPoolSize: 50,
			OpTimeout:   5,
		},
		DataFlow: DataFlowConfig{
			RingBufferSize:  500,
			ChannelCapacity: 1000,
			ReplayCount:     50,
		},
		Writer: WriterConfig{
			MaxRetries:        3,
			ProtocolTimeout:   15,
			PerPatientStripes: 1024,
		},
		Resolver: ResolverConfig{
			CacheTTL: 60,
		},
		Listener: ListenerConfig{
			WorkerPool: 0, // 4 x CPU
		},
		Shutdown: ShutdownConfig{
			Drain:      10,
			EventFlush: 2,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8098,
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
			SendBuffer:     100,
			SendTimeout:    2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AMYCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("AMYCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AMYCORE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("AMYCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AMYCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("AMYCORE_DATABASE_URI"); v != "" {
		cfg.Database.URI = v
	}
	if v := os.Getenv("AMYCORE_DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("AMYCORE_DATABASE_AUDIT_NAME"); v != "" {
		cfg.Database.AuditName = v
	}

	// Data flow
	if v := os.Getenv("AMYCORE_DATAFLOW_COLLECTOR_URL"); v != "" {
		cfg.DataFlow.CollectorURL = v
	}

	// InfluxDB
	if v := os.Getenv("AMYCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("AMYCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AMYCORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keepalive must be positive")
	}

	if c.Database.URI == "" {
		errs = append(errs, "database.uri is required")
	}
	if c.Database.Name == "" {
		errs = append(errs, "database.name is required")
	}
	if c.Database.MinPoolSize < 0 || c.Database.MaxPoolSize < c.Database.MinPoolSize {
		errs = append(errs, "database pool bounds invalid (max_pool_size must be >= min_pool_size)")
	}

	if c.DataFlow.RingBufferSize < 1 {
		errs = append(errs, "dataflow.ring_buffer_size must be at least 1")
	}
	if c.DataFlow.ChannelCapacity < 1 {
		errs = append(errs, "dataflow.channel_capacity must be at least 1")
	}

	if c.Writer.MaxRetries < 0 {
		errs = append(errs, "writer.max_retries must not be negative")
	}
	if c.Writer.PerPatientStripes < 1 {
		errs = append(errs, "writer.per_patient_stripes must be at least 1")
	}

	if c.Resolver.CacheTTL < 0 {
		errs = append(errs, "resolver.cache_ttl must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Listener.KatiTimezone != "" {
		if _, err := time.LoadLocation(c.Listener.KatiTimezone); err != nil {
			errs = append(errs, fmt.Sprintf("listener.kati_timezone %q is not a valid IANA zone", c.Listener.KatiTimezone))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// WorkerPoolSize returns the effective handler pool size per listener.
func (c *Config) WorkerPoolSize() int {
	if c.Listener.WorkerPool > 0 {
		return c.Listener.WorkerPool
	}
	return 4 * runtime.NumCPU()
}

// KatiLocation returns the zone used to interpret Kati timestamp strings.
// The source never states the watch timezone; UTC is the documented default.
func (c *Config) KatiLocation() *time.Location {
	if c.Listener.KatiTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Listener.KatiTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetOpTimeout returns the per-database-operation timeout as a Duration.
func (c *DatabaseConfig) GetOpTimeout() time.Duration {
	return time.Duration(c.OpTimeout) * time.Second
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

// DrainDeadline returns the shutdown drain deadline as a Duration.
func (c *Config) DrainDeadline() time.Duration {
	return time.Duration(c.Shutdown.Drain) * time.Second
}

// EventFlushDeadline returns the event channel flush deadline as a Duration.
func (c *Config) EventFlushDeadline() time.Duration {
	return time.Duration(c.Shutdown.EventFlush) * time.Second
}
