package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "cattle-monitor", cfg.Service.Name)
	assert.Equal(t, "Asia/Kolkata", cfg.Service.Timezone)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "cms-thresholds", cfg.NATS.ThresholdBucket)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, 8080, cfg.WebSocket.Port)
	assert.Equal(t, 8, cfg.Ingest.Shards)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "cms.json", `{
		"service": {"name": "farm-a", "reporting_interval": "2m"},
		"nats": {"url": "nats://broker:4222", "reconnect_wait": "5s"},
		"mongo": {"database": "herd"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "farm-a", cfg.Service.Name)
	assert.Equal(t, 2*time.Minute, cfg.Service.ReportingInterval)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "herd", cfg.Mongo.Database)
	// Untouched sections keep their defaults
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadLayersMergeInOrder(t *testing.T) {
	base := writeConfigFile(t, "base.json", `{"service": {"name": "base"}, "websocket": {"port": 9000}}`)
	over := writeConfigFile(t, "override.json", `{"service": {"name": "override"}}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(over)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "override", cfg.Service.Name)
	assert.Equal(t, 9000, cfg.WebSocket.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CMS_NATS_URL", "nats://env-broker:4222")
	t.Setenv("CMS_MONGO_DATABASE", "env-db")
	t.Setenv("CMS_WEBSOCKET_PORT", "7777")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://env-broker:4222", cfg.NATS.URL)
	assert.Equal(t, "env-db", cfg.Mongo.Database)
	assert.Equal(t, 7777, cfg.WebSocket.Port)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfigFile(t, "bad.json", `{"service": {`)

	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonJSONPath(t *testing.T) {
	path := writeConfigFile(t, "cms.yaml", `service: {}`)

	_, err := NewLoader().LoadFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := NewLoader().getDefaults()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing service name", func(c *Config) { c.Service.Name = "" }},
		{"invalid subject chars", func(c *Config) { c.Service.Name = "farm a" }},
		{"bad timezone", func(c *Config) { c.Service.Timezone = "Mars/Olympus" }},
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }},
		{"missing mongo uri", func(c *Config) { c.Mongo.URI = "" }},
		{"missing mongo database", func(c *Config) { c.Mongo.Database = "" }},
		{"websocket port out of range", func(c *Config) { c.WebSocket.Port = 70000 }},
		{"negative shards", func(c *Config) { c.Ingest.Shards = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewLoader().getDefaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSafeConfigGetReturnsCopy(t *testing.T) {
	sc := NewSafeConfig(NewLoader().getDefaults())

	copy1 := sc.Get()
	copy1.Service.Name = "mutated"

	copy2 := sc.Get()
	assert.Equal(t, "cattle-monitor", copy2.Service.Name)
}

func TestSafeConfigUpdateValidates(t *testing.T) {
	sc := NewSafeConfig(NewLoader().getDefaults())

	bad := NewLoader().getDefaults()
	bad.NATS.URL = ""
	assert.Error(t, sc.Update(bad))

	good := NewLoader().getDefaults()
	good.Service.Name = "farm-b"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "farm-b", sc.Get().Service.Name)
}

func TestLocationDefaultsToKolkata(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "Asia/Kolkata", cfg.Location().String())

	cfg.Service.Timezone = "UTC"
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, 2, {"b": "c"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": {`)))

	deep := ""
	for i := 0; i < maxJSONDepth+1; i++ {
		deep += "["
	}
	assert.Error(t, validateJSONDepth([]byte(deep)))
}
