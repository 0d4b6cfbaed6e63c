// Package config loads and validates service configuration from layered
// JSON files with environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"
)

// Config represents the complete application configuration
type Config struct {
	Version   string          `json:"version"` // Semantic version for deployment tracking
	Service   ServiceConfig   `json:"service"`
	NATS      NATSConfig      `json:"nats"`
	Mongo     MongoConfig     `json:"mongo"`
	Metrics   MetricsConfig   `json:"metrics"`
	WebSocket WebSocketConfig `json:"websocket"`
	Ingest    IngestConfig    `json:"ingest"`
	Safety    SafetyConfig    `json:"safety"`
}

// SafetyConfig tunes the boundary evaluator.
type SafetyConfig struct {
	// OutsideZonesIsDanger escalates readings located outside every
	// configured zone from WARNING to DANGER.
	OutsideZonesIsDanger bool `json:"outside_zones_is_danger,omitempty"`
}

// ServiceConfig defines service identity and domain-wide behavior
type ServiceConfig struct {
	Name        string `json:"name"`                  // Service instance name, used in NATS client name and logs
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
	Timezone    string `json:"timezone,omitempty"`    // IANA zone for aggregate bucketing

	// Devices reporting less often than this are considered stale
	ReportingInterval time.Duration `json:"reporting_interval,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`

	ThresholdBucket string `json:"threshold_bucket,omitempty"`
	ZoneBucket      string `json:"zone_bucket,omitempty"`
}

// MongoConfig defines MongoDB connection settings
type MongoConfig struct {
	URI      string        `json:"uri,omitempty"`
	Database string        `json:"database,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// WebSocketConfig defines the fan-out server settings
type WebSocketConfig struct {
	Port           int           `json:"port,omitempty"`
	Path           string        `json:"path,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty"`
	WriteTimeout   time.Duration `json:"write_timeout,omitempty"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty"`
}

// IngestConfig defines the telemetry pipeline settings
type IngestConfig struct {
	Shards    int `json:"shards,omitempty"`     // Concurrent per-device processing lanes
	QueueSize int `json:"queue_size,omitempty"` // Per-shard backlog before messages are dropped

	// Pending publish queue used while the broker is unreachable
	PublishQueueCapacity int           `json:"publish_queue_capacity,omitempty"`
	PublishFlushInterval time.Duration `json:"publish_flush_interval,omitempty"`

	// Minimum gap between repeated notifications for one device
	NotificationInterval time.Duration `json:"notification_interval,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}
	if !isValidNATSSubjectPart(c.Service.Name) {
		return fmt.Errorf(
			"service.name %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Service.Name)
	}

	if c.Service.Timezone != "" {
		if _, err := time.LoadLocation(c.Service.Timezone); err != nil {
			return fmt.Errorf("service.timezone: %w", err)
		}
	}
	if c.Service.ReportingInterval < 0 {
		return errors.New("service.reporting_interval cannot be negative")
	}

	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if c.Mongo.URI == "" {
		return errors.New("mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		return errors.New("mongo.database is required")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port %d out of range", c.WebSocket.Port)
	}

	if c.Ingest.Shards < 0 {
		return errors.New("ingest.shards cannot be negative")
	}
	if c.Ingest.QueueSize < 0 {
		return errors.New("ingest.queue_size cannot be negative")
	}
	if c.Ingest.PublishQueueCapacity < 0 {
		return errors.New("ingest.publish_queue_capacity cannot be negative")
	}

	return nil
}

// Location resolves the configured timezone, defaulting to Asia/Kolkata
// to match the deployment region of the collar fleet.
func (c *Config) Location() *time.Location {
	tz := c.Service.Timezone
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
