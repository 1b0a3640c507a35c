// Package config provides configuration structures and loading logic for the broker.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-broker/pkg/bridge"
	"github.com/polisai/polis-broker/pkg/logging"
	"github.com/polisai/polis-broker/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "POLIS_BROKER_"

// Config holds the global configuration for the broker.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Broker    BrokerConfig     `yaml:"broker"`
	Bridge    bridge.Config    `yaml:"bridge"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Simulator SimulatorConfig  `yaml:"simulator"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// BrokerConfig holds channel registry settings.
type BrokerConfig struct {
	// QueueCapacity bounds each subscriber queue; 0 means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SimulatorConfig seeds the in-memory engine.
type SimulatorConfig struct {
	Tags     []TagSeed     `yaml:"tags"`
	Interval time.Duration `yaml:"interval"`
}

// TagSeed is an initial simulator tag.
type TagSeed struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Bridge: bridge.DefaultConfig(),
		Telemetry: telemetry.Config{
			ServiceName: "polis-broker",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Simulator: SimulatorConfig{
			Interval: time.Second,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := getenv("LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}
	if val := getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := getenv("LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := getenv("QUEUE_CAPACITY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sQUEUE_CAPACITY: %w", EnvPrefix, err)
		}
		cfg.Broker.QueueCapacity = n
	}

	if val := getenv("LOOKUP_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sLOOKUP_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Bridge.LookupTimeout = d
	}
	if val := getenv("LOOKUP_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sLOOKUP_CONCURRENCY: %w", EnvPrefix, err)
		}
		cfg.Bridge.LookupConcurrency = n
	}
	if val := getenv("SNAPSHOT_ON_OPEN"); val != "" {
		cfg.Bridge.SnapshotOnOpen = val == "true"
	}

	if val := getenv("OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := getenv("OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := getenv("SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}

	if val := getenv("METRICS_ENABLED"); val != "" {
		cfg.Metrics.Enabled = val == "true"
	}

	if val := getenv("SIMULATOR_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sSIMULATOR_INTERVAL: %w", EnvPrefix, err)
		}
		cfg.Simulator.Interval = d
	}

	return nil
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

// Validate performs validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if c.Broker.QueueCapacity < 0 {
		return fmt.Errorf("broker configuration: queue_capacity must not be negative, got %d", c.Broker.QueueCapacity)
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}

	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	_, err := logging.ParseLevel(c.Level)
	return err
}

// Validate performs validation of metrics configuration
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", c.Path)
	}
	return nil
}

// Validate performs validation of simulator configuration
func (c *SimulatorConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	seen := make(map[string]bool, len(c.Tags))
	for i, tag := range c.Tags {
		if strings.TrimSpace(tag.Name) == "" {
			return fmt.Errorf("tag %d: name cannot be empty", i)
		}
		if seen[tag.Name] {
			return fmt.Errorf("duplicate tag %q", tag.Name)
		}
		seen[tag.Name] = true
	}
	return nil
}
