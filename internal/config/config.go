package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Portal          PortalConfig      `yaml:"portal"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Refresh         RefreshConfig     `yaml:"refresh"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	API             APIConfig         `yaml:"api"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Notify          NotifyConfig      `yaml:"notify"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// PortalConfig contains backend connection settings
type PortalConfig struct {
	URL          string        `yaml:"url"`
	Session      string        `yaml:"session"`     // Session cookie value issued by the backend after SSO
	CookieName   string        `yaml:"cookie_name"` // default: JSESSIONID
	Timeout      Duration      `yaml:"timeout"`     // HTTP timeout per request
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains circuit breaker settings for the backend client
type BreakerConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Probes allowed while half-open
	Interval            Duration `yaml:"interval"`             // Closed-state counter reset period
	Timeout             Duration `yaml:"timeout"`              // Open-state duration before probing
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Failures that trip the breaker
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the lower-cased level name
func (c *LogConfig) GetLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Level))
}

// RefreshConfig controls the directory source and periodic reloads
type RefreshConfig struct {
	Interval      Duration `yaml:"interval"` // 0 = refresh only on demand and after mutations
	Kind          string   `yaml:"kind"`     // KEY or BICYCLE
	AvailableOnly bool     `yaml:"available_only"`
	Location      string   `yaml:"location"`
	Block         string   `yaml:"block"`
	Floor         string   `yaml:"floor"`
}

// LedgerConfig contains audit ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// GetRetention returns the retention period
func (c *LedgerConfig) GetRetention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// APIConfig contains local API server settings
type APIConfig struct {
	Enabled bool      `yaml:"enabled"`
	Host    string    `yaml:"host"`
	Port    int       `yaml:"port"`
	JWT     JWTConfig `yaml:"jwt"`
}

// JWTConfig enables bearer-token auth on the local API when Secret is set
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// NotifyConfig selects where notifications are delivered
type NotifyConfig struct {
	Log            bool        `yaml:"log"`
	SSE            bool        `yaml:"sse"` // Serve /api/v1/events on the API server
	PublishTimeout Duration    `yaml:"publish_timeout"`
	MQTT           MQTTConfig  `yaml:"mqtt"`
	Redis          RedisConfig `yaml:"redis"`
	AMQP           AMQPConfig  `yaml:"amqp"`
}

// MQTTConfig contains MQTT sink settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// RedisConfig contains Redis pub/sub sink settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AMQPConfig contains AMQP sink settings
type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// GetShutdownTimeout returns the shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./borrowd.sqlite"
	}

	// Portal defaults
	if cfg.Portal.CookieName == "" {
		cfg.Portal.CookieName = "JSESSIONID"
	}
	if cfg.Portal.Timeout == 0 {
		cfg.Portal.Timeout = Duration(10 * time.Second)
	}
	if cfg.Portal.RateLimitRPS == 0 {
		cfg.Portal.RateLimitRPS = 10.0
	}

	// Refresh defaults: periodic refresh is off unless an interval is set
	if cfg.Refresh.Kind == "" {
		cfg.Refresh.Kind = "KEY"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}

	// Notify defaults
	if cfg.Notify.PublishTimeout == 0 {
		cfg.Notify.PublishTimeout = Duration(5 * time.Second)
	}
	if cfg.Notify.MQTT.ClientID == "" {
		cfg.Notify.MQTT.ClientID = "borrowd"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	if c.Portal.URL == "" {
		return fmt.Errorf("portal.url is required")
	}
	if c.Portal.Session == "" {
		return fmt.Errorf("portal.session is required")
	}
	if c.Notify.MQTT.Enabled && c.Notify.MQTT.Broker == "" {
		return fmt.Errorf("notify.mqtt.broker is required when mqtt is enabled")
	}
	if c.Notify.Redis.Enabled && c.Notify.Redis.Addr == "" {
		return fmt.Errorf("notify.redis.addr is required when redis is enabled")
	}
	if c.Notify.AMQP.Enabled && c.Notify.AMQP.URL == "" {
		return fmt.Errorf("notify.amqp.url is required when amqp is enabled")
	}
	if c.Notify.MQTT.QoS > 2 {
		return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
