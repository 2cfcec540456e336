// Package config provides configuration management for mediaref.
// It supports loading configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/mediaref/pkg/db"
	"github.com/otherjamesbrown/mediaref/pkg/events"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/observability"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/store"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultGRPCAddress     = "localhost:50061"
	DefaultMetricsAddress  = "localhost:9464"
	DefaultRedisAddress    = "localhost:6379"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultClientTimeout   = 30 * time.Second
	DefaultOutputFormat    = OutputFormatText
	DefaultConfigDir       = ".mediaref"
	DefaultConfigFile      = "config.yaml"
)

// TLSConfig holds gRPC server TLS settings.
type TLSConfig struct {
	// Enabled indicates whether the server terminates TLS.
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are the server certificate and key.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	// ClientCA, when set, requires clients to present a certificate signed by it.
	ClientCA string `yaml:"client_ca,omitempty"`

	// CertDir is a directory containing server.crt, server.key and ca.crt.
	// If set, it provides default paths for the fields above.
	CertDir string `yaml:"cert_dir,omitempty"`
}

// ResolvePaths expands ~ in paths and sets defaults from CertDir if configured.
func (c *TLSConfig) ResolvePaths() {
	if c.CertDir != "" {
		c.CertDir = expandPath(c.CertDir)
		if c.CertFile == "" {
			c.CertFile = filepath.Join(c.CertDir, "server.crt")
		}
		if c.KeyFile == "" {
			c.KeyFile = filepath.Join(c.CertDir, "server.key")
		}
		if c.ClientCA == "" {
			c.ClientCA = filepath.Join(c.CertDir, "ca.crt")
		}
		return
	}
	c.CertFile = expandPath(c.CertFile)
	c.KeyFile = expandPath(c.KeyFile)
	c.ClientCA = expandPath(c.ClientCA)
}

// ClientTLSConfig holds client-side TLS settings for talking to a remote server.
type ClientTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert,omitempty"`
	ClientCert string `yaml:"client_cert,omitempty"`
	ClientKey  string `yaml:"client_key,omitempty"`

	// SkipVerify disables server certificate verification (development only).
	SkipVerify bool `yaml:"skip_verify,omitempty"`

	// CertDir is a directory containing ca.crt, client.crt and client.key.
	CertDir string `yaml:"cert_dir,omitempty"`
}

// ResolvePaths expands ~ in paths and sets defaults from CertDir if configured.
func (c *ClientTLSConfig) ResolvePaths() {
	if c.CertDir != "" {
		c.CertDir = expandPath(c.CertDir)
		if c.CACert == "" {
			c.CACert = filepath.Join(c.CertDir, "ca.crt")
		}
		if c.ClientCert == "" {
			c.ClientCert = filepath.Join(c.CertDir, "client.crt")
		}
		if c.ClientKey == "" {
			c.ClientKey = filepath.Join(c.CertDir, "client.key")
		}
		return
	}
	c.CACert = expandPath(c.CACert)
	c.ClientCert = expandPath(c.ClientCert)
	c.ClientKey = expandPath(c.ClientKey)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// RedisConfig holds Redis connection settings for the store and for events.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix,omitempty"`
	TTL        time.Duration `yaml:"ttl,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`

	// Password is never written to the config file. It comes from the
	// environment or the credentials store.
	Password string `yaml:"-"`
}

// StoreConfig selects and configures the registry store.
type StoreConfig struct {
	// Backend is memory, redis or postgres.
	Backend string `yaml:"backend"`

	// ApplyRetries bounds version-conflict retries when storing resolution updates.
	ApplyRetries int `yaml:"apply_retries"`

	Redis    RedisConfig `yaml:"redis"`
	Postgres db.Config   `yaml:"postgres"`
}

// EventsConfig configures resolution event publishing.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ChannelPrefix string `yaml:"channel_prefix"`
	// RedisAddr defaults to the store's Redis address.
	RedisAddr string `yaml:"redis_addr,omitempty"`
}

// AuditConfig configures the resolution audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn,omitempty"`
}

// ServerConfig configures `mediaref serve`.
type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpc_address"`
	MetricsAddress  string        `yaml:"metrics_address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// ClientConfig configures CLI commands that talk to a running server.
// An empty ServerAddress means commands resolve in-process.
type ClientConfig struct {
	ServerAddress string          `yaml:"server_address,omitempty"`
	Timeout       time.Duration   `yaml:"timeout"`
	TLS           ClientTLSConfig `yaml:"tls"`
}

// Config holds the mediaref configuration.
type Config struct {
	Resolver resolver.Config             `yaml:"resolver"`
	Store    StoreConfig                 `yaml:"store"`
	Events   EventsConfig                `yaml:"events"`
	Audit    AuditConfig                 `yaml:"audit"`
	Server   ServerConfig                `yaml:"server"`
	Client   ClientConfig                `yaml:"client"`
	Tracing  observability.TracingConfig `yaml:"tracing"`

	LogLevel     string       `yaml:"log_level"`
	LogJSON      bool         `yaml:"log_json,omitempty"`
	OutputFormat OutputFormat `yaml:"output_format"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Resolver: resolver.DefaultConfig(),
		Store: StoreConfig{
			Backend:      store.BackendMemory,
			ApplyRetries: store.DefaultMaxRetries,
			Redis: RedisConfig{
				Addr:      DefaultRedisAddress,
				KeyPrefix: store.DefaultRedisKeyPrefix,
			},
			Postgres: *db.DefaultConfig(),
		},
		Events: EventsConfig{
			ChannelPrefix: events.DefaultChannelPrefix,
		},
		Server: ServerConfig{
			GRPCAddress:     DefaultGRPCAddress,
			MetricsAddress:  DefaultMetricsAddress,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Client: ClientConfig{
			Timeout: DefaultClientTimeout,
		},
		Tracing: observability.TracingConfig{
			SampleRate: 1.0,
		},
		LogLevel:     string(logging.LevelInfo),
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $MEDIAREF_CONFIG_DIR if set, otherwise ~/.mediaref
func ConfigDir() (string, error) {
	if dir := os.Getenv("MEDIAREF_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.mediaref/config.yaml or $MEDIAREF_CONFIG_DIR/config.yaml)
// 3. MEDIAREF_* environment variables
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys missing from the file keep their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("MEDIAREF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEDIAREF_LOG_JSON"); v != "" {
		cfg.LogJSON = isTrue(v)
	}
	if v := os.Getenv("MEDIAREF_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	// Store
	if v := os.Getenv("MEDIAREF_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("MEDIAREF_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("MEDIAREF_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEDIAREF_REDIS_DB: %w", err)
		}
		cfg.Store.Redis.DB = n
	}
	if v := os.Getenv("MEDIAREF_REDIS_KEY_PREFIX"); v != "" {
		cfg.Store.Redis.KeyPrefix = v
	}
	if v := os.Getenv("MEDIAREF_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("MEDIAREF_POSTGRES_HOST"); v != "" {
		cfg.Store.Postgres.Host = v
	}
	if v := os.Getenv("MEDIAREF_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEDIAREF_POSTGRES_PORT: %w", err)
		}
		cfg.Store.Postgres.Port = port
	}
	if v := os.Getenv("MEDIAREF_POSTGRES_DATABASE"); v != "" {
		cfg.Store.Postgres.Database = v
	}
	if v := os.Getenv("MEDIAREF_POSTGRES_USER"); v != "" {
		cfg.Store.Postgres.User = v
	}
	if v := os.Getenv("MEDIAREF_POSTGRES_PASSWORD"); v != "" {
		cfg.Store.Postgres.Password = v
	}
	if v := os.Getenv("MEDIAREF_POSTGRES_SSLMODE"); v != "" {
		cfg.Store.Postgres.SSLMode = v
	}

	// Events and audit
	if v := os.Getenv("MEDIAREF_EVENTS_ENABLED"); v != "" {
		cfg.Events.Enabled = isTrue(v)
	}
	if v := os.Getenv("MEDIAREF_EVENTS_CHANNEL_PREFIX"); v != "" {
		cfg.Events.ChannelPrefix = v
	}
	if v := os.Getenv("MEDIAREF_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = isTrue(v)
	}
	if v := os.Getenv("MEDIAREF_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}

	// Server
	if v := os.Getenv("MEDIAREF_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("MEDIAREF_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MEDIAREF_TLS_CERT_DIR"); v != "" {
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.CertDir = v
	}
	if v := os.Getenv("MEDIAREF_SERVER"); v != "" {
		cfg.Client.ServerAddress = v
	}
	if v := os.Getenv("MEDIAREF_CLIENT_CERT_DIR"); v != "" {
		cfg.Client.TLS.Enabled = true
		cfg.Client.TLS.CertDir = v
	}
	if v := os.Getenv("MEDIAREF_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = isTrue(v)
	}
	if v := os.Getenv("MEDIAREF_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	return nil
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

// Validate checks that the configuration is valid, filling unset resolver values with defaults.
func (c *Config) Validate() error {
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	switch c.Store.Backend {
	case store.BackendMemory:
	case store.BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case store.BackendPostgres:
		if err := c.Store.Postgres.Validate(); err != nil {
			return fmt.Errorf("store.postgres: %w", err)
		}
	default:
		return fmt.Errorf("invalid store.backend: %q (must be memory, redis, or postgres)", c.Store.Backend)
	}
	if c.Store.ApplyRetries < 0 {
		return fmt.Errorf("store.apply_retries must not be negative")
	}

	if c.Events.Enabled && c.EventsRedisAddr() == "" {
		return fmt.Errorf("events.redis_addr is required when events are enabled")
	}
	if c.Audit.Enabled && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn is required when audit is enabled")
	}

	if c.Server.GRPCAddress == "" {
		return fmt.Errorf("server.grpc_address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}

	if !logging.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %q (must be debug, info, warn, or error)", c.LogLevel)
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	return nil
}

// EventsRedisAddr returns the Redis address used for publishing events.
func (c *Config) EventsRedisAddr() string {
	if c.Events.RedisAddr != "" {
		return c.Events.RedisAddr
	}
	return c.Store.Redis.Addr
}

// LoggingConfig converts the log settings into a logging.Config.
func (c *Config) LoggingConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.Level(c.LogLevel)
	lc.JSONFormat = c.LogJSON
	return lc
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}
