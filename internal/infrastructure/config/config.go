package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the hub companion.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Hub        HubConfig        `yaml:"hub"`
	Registry   RegistryConfig   `yaml:"registry"`
	Irrigation IrrigationConfig `yaml:"irrigation"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// HubConfig contains the connection settings for the home-automation hub.
type HubConfig struct {
	// URL is the hub's base URL, e.g. "http://homeassistant.local:8123".
	URL string `yaml:"url"`

	// SupervisorToken enables supervised mode. When set it replaces every
	// other credential and the supervisor URLs are used instead of URL.
	SupervisorToken   string `yaml:"supervisor_token"`
	SupervisorWSURL   string `yaml:"supervisor_ws_url"`
	SupervisorRESTURL string `yaml:"supervisor_rest_url"`

	// ClientName prefixes the name of long-lived tokens minted for users.
	ClientName string `yaml:"client_name"`

	// RequestTimeout bounds a single request/response exchange (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// HandshakeTimeout bounds the websocket opening handshake (seconds).
	HandshakeTimeout int `yaml:"handshake_timeout"`

	Reconnect HubReconnectConfig `yaml:"reconnect"`
	REST      HubRESTConfig      `yaml:"rest"`
}

// HubReconnectConfig shapes the quadratic reconnect delay:
// base_delay + retries² × unit, capped at max_delay. All values in milliseconds.
type HubReconnectConfig struct {
	BaseDelay int `yaml:"base_delay"`
	Unit      int `yaml:"unit"`
	MaxDelay  int `yaml:"max_delay"`
}

// HubRESTConfig contains REST surface resilience settings.
type HubRESTConfig struct {
	Retries            int `yaml:"retries"`
	BreakerFailures    int `yaml:"breaker_failures"`
	BreakerOpenSeconds int `yaml:"breaker_open_seconds"`
}

// RegistryConfig contains registry cache settings.
type RegistryConfig struct {
	// Debounce is the per-topic coalescing window for topology events (milliseconds).
	Debounce int `yaml:"debounce"`

	// RebuildTimeout bounds one full rebuild (seconds).
	RebuildTimeout int `yaml:"rebuild_timeout"`
}

// IrrigationConfig contains irrigation scheduler settings.
type IrrigationConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TickInterval    string `yaml:"tick_interval"`
	ValvePattern    string `yaml:"valve_pattern"`
	ForecastPattern string `yaml:"forecast_pattern"`
	CheckEvent      string `yaml:"check_event"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
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

// Default returns the built-in configuration with environment overrides applied.
// Used when no configuration file exists (for example inside a supervised add-on).
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "companion",
			Name:     "Hub Companion",
			Timezone: "Local",
		},
		Hub: HubConfig{
			URL:               "http://homeassistant.local:8123",
			SupervisorWSURL:   "ws://supervisor/core/websocket",
			SupervisorRESTURL: "http://supervisor/core/api",
			ClientName:        "Hub Companion",
			RequestTimeout:    30,
			HandshakeTimeout:  10,
			Reconnect: HubReconnectConfig{
				BaseDelay: 0,
				Unit:      1000,
				MaxDelay:  300000,
			},
			REST: HubRESTConfig{
				Retries:            2,
				BreakerFailures:    5,
				BreakerOpenSeconds: 30,
			},
		},
		Registry: RegistryConfig{
			Debounce:       500,
			RebuildTimeout: 30,
		},
		Irrigation: IrrigationConfig{
			Enabled:         true,
			TickInterval:    "every 5 minutes",
			ValvePattern:    `^switch\..*valve.*$`,
			ForecastPattern: `^weather\.`,
			CheckEvent:      "companion_check_irrigation",
		},
		Database: DatabaseConfig{
			Path:        "./data/companion.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hub-companion",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Companion settings use the COMPANION_ prefix; the hub's own add-on variables
// (HOMEASSISTANT_URL, SUPERVISOR_*) are honoured as well.
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("HOMEASSISTANT_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("COMPANION_HUB_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("SUPERVISOR_TOKEN"); v != "" {
		cfg.Hub.SupervisorToken = v
	}
	if v := os.Getenv("SUPERVISOR_WS_URL"); v != "" {
		cfg.Hub.SupervisorWSURL = v
	}
	if v := os.Getenv("SUPERVISOR_REST_URL"); v != "" {
		cfg.Hub.SupervisorRESTURL = v
	}
	if v := os.Getenv("COMPANION_CLIENT_NAME"); v != "" {
		cfg.Hub.ClientName = v
	}

	// Database
	if v := os.Getenv("COMPANION_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("COMPANION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COMPANION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COMPANION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("COMPANION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("COMPANION_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Hub.URL == "" && c.Hub.SupervisorToken == "" {
		errs = append(errs, "hub.url is required unless a supervisor token is set")
	}
	if c.Hub.SupervisorToken != "" && c.Hub.SupervisorWSURL == "" {
		errs = append(errs, "hub.supervisor_ws_url is required in supervised mode")
	}
	if c.Hub.ClientName == "" {
		errs = append(errs, "hub.client_name is required")
	}
	if c.Hub.RequestTimeout <= 0 {
		errs = append(errs, "hub.request_timeout must be positive")
	}
	if c.Hub.Reconnect.BaseDelay < 0 || c.Hub.Reconnect.Unit < 0 || c.Hub.Reconnect.MaxDelay < 0 {
		errs = append(errs, "hub.reconnect delays must not be negative")
	}

	if c.Registry.Debounce < 0 {
		errs = append(errs, "registry.debounce must not be negative")
	}

	if c.Irrigation.Enabled {
		if c.Irrigation.TickInterval == "" {
			errs = append(errs, "irrigation.tick_interval is required")
		}
		if c.Irrigation.ValvePattern == "" {
			errs = append(errs, "irrigation.valve_pattern is required")
		}
		if c.Irrigation.ForecastPattern == "" {
			errs = append(errs, "irrigation.forecast_pattern is required")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Supervised reports whether the companion runs with a supervisor token.
func (h HubConfig) Supervised() bool {
	return h.SupervisorToken != ""
}

// GetRequestTimeout returns the hub request timeout as a Duration.
func (h HubConfig) GetRequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeout) * time.Second
}

// GetHandshakeTimeout returns the websocket handshake timeout as a Duration.
func (h HubConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(h.HandshakeTimeout) * time.Second
}

// GetDebounce returns the registry debounce window as a Duration.
func (r RegistryConfig) GetDebounce() time.Duration {
	return time.Duration(r.Debounce) * time.Millisecond
}

// GetRebuildTimeout returns the registry rebuild timeout as a Duration.
func (r RegistryConfig) GetRebuildTimeout() time.Duration {
	return time.Duration(r.RebuildTimeout) * time.Second
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

// Location resolves the site timezone. Unknown names fall back to time.Local.
func (s SiteConfig) Location() *time.Location {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
