package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "CMS",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:              "cattle-monitor",
			Environment:       "dev",
			Timezone:          "Asia/Kolkata",
			ReportingInterval: time.Minute,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ThresholdBucket: "cms-thresholds",
			ZoneBucket:      "cms-zones",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "cattle",
			Timeout:  10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		WebSocket: WebSocketConfig{
			Port:         8080,
			Path:         "/ws",
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			Shards:               8,
			QueueSize:            256,
			PublishQueueCapacity: 1024,
			PublishFlushInterval: 5 * time.Second,
			NotificationInterval: time.Minute,
		},
	}
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// durationFields maps config sections to their duration-valued keys.
// JSON files carry durations as strings ("30s"); Go expects nanoseconds.
var durationFields = map[string][]string{
	"service":   {"reporting_interval"},
	"nats":      {"reconnect_wait"},
	"mongo":     {"timeout"},
	"websocket": {"ping_interval", "write_timeout"},
	"ingest":    {"publish_flush_interval", "notification_interval"},
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) {
	for section, keys := range durationFields {
		m, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			if d, err := parseDurationWithDays(s); err == nil {
				m[key] = d.Nanoseconds()
			}
		}
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := l.getEnv("SERVICE_NAME"); val != "" {
		cfg.Service.Name = val
	}
	if val := l.getEnv("ENVIRONMENT"); val != "" {
		cfg.Service.Environment = val
	}
	if val := l.getEnv("TIMEZONE"); val != "" {
		cfg.Service.Timezone = val
	}

	if val := l.getEnv("NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := l.getEnv("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := l.getEnv("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}

	if val := l.getEnv("MONGO_URI"); val != "" {
		cfg.Mongo.URI = val
	}
	if val := l.getEnv("MONGO_DATABASE"); val != "" {
		cfg.Mongo.Database = val
	}

	if val := l.getEnv("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if val := l.getEnv("WEBSOCKET_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.WebSocket.Port = port
		}
	}
}

func (l *Loader) getEnv(suffix string) string {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return ""
	}
	return val
}
