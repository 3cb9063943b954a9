package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)

	// Serial defaults
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 2*time.Second, cfg.SerialReadTimeout())

	// Cloud defaults
	assert.Equal(t, true, cfg.Cloud.Enabled)
	assert.Equal(t, "mqtt.mydevices.com", cfg.Cloud.Host)
	assert.Equal(t, 1883, cfg.Cloud.Port)
	assert.Equal(t, 2*time.Second, cfg.PumpInterval())

	// Storage defaults
	assert.Equal(t, "homegrid_persistent_data.json", cfg.Storage.SnapshotFile)
	assert.Equal(t, 30*time.Second, cfg.BackupInterval())

	// Accounting defaults
	assert.Equal(t, 1.0, cfg.Accounting.SampleIntervalSeconds)
	assert.Equal(t, 0.15, cfg.Accounting.KilowattCostDollars)

	assert.Equal(t, time.Second, cfg.QueuePollTimeout())

	// API defaults
	assert.Equal(t, true, cfg.API.Enabled)
	assert.Equal(t, 8080, cfg.API.Port)

	assert.Equal(t, false, cfg.History.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigWithNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent_config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoadConfigWithValidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
log_level: debug
serial:
  device: /dev/ttyAMA0
  baud_rate: 57600
  read_timeout_ms: 500
cloud:
  enabled: false
  host: broker.example.com
  port: 8883
  username: cayenne-user
  password: cayenne-pass
  pump_interval_seconds: 1
storage:
  snapshot_file: /var/lib/homegrid/state.json
  backup_interval_seconds: 60
  inventory_file: /etc/homegrid/inventory.yaml
accounting:
  sample_interval_seconds: 2
  kilowatt_cost_dollars: 0.21
hub:
  queue_poll_timeout_ms: 250
api:
  enabled: false
  host: 127.0.0.1
  port: 9000
history:
  enabled: true
  url: http://influx:8086
  token: secret
  org: home
  bucket: plugs
`

	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.LogLevel)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Device)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.SerialReadTimeout())

	assert.Equal(t, false, cfg.Cloud.Enabled)
	assert.Equal(t, "broker.example.com", cfg.Cloud.Host)
	assert.Equal(t, 8883, cfg.Cloud.Port)
	assert.Equal(t, "cayenne-user", cfg.Cloud.Username)
	assert.Equal(t, "cayenne-pass", cfg.Cloud.Password)
	assert.Equal(t, time.Second, cfg.PumpInterval())
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.Cloud.PublishTimeoutSeconds)

	assert.Equal(t, "/var/lib/homegrid/state.json", cfg.Storage.SnapshotFile)
	assert.Equal(t, 60, cfg.Storage.BackupIntervalSeconds)
	assert.Equal(t, "/etc/homegrid/inventory.yaml", cfg.Storage.InventoryFile)

	assert.Equal(t, 2.0, cfg.Accounting.SampleIntervalSeconds)
	assert.Equal(t, 0.21, cfg.Accounting.KilowattCostDollars)

	assert.Equal(t, 250*time.Millisecond, cfg.QueuePollTimeout())

	assert.Equal(t, false, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 9000, cfg.API.Port)

	assert.Equal(t, true, cfg.History.Enabled)
	assert.Equal(t, "http://influx:8086", cfg.History.URL)
	assert.Equal(t, "secret", cfg.History.Token)
	assert.Equal(t, "home", cfg.History.Org)
	assert.Equal(t, "plugs", cfg.History.Bucket)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("cloud:\n  username: from-file\n"), 0o644))

	t.Setenv("HOMEGRID_CLOUD_USERNAME", "from-env")
	t.Setenv("HOMEGRID_CLOUD_PASSWORD", "hunter2")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Cloud.Username)
	assert.Equal(t, "hunter2", cfg.Cloud.Password)
}

func TestLoadConfigWithInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid_config.yaml")

	invalidContent := `
invalid: yaml: content: [
`

	err := os.WriteFile(configFile, []byte(invalidContent), 0o644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("storage:\n  backup_interval_seconds: 0\n"), 0o644))

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup_interval_seconds")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty device", mutate: func(c *Config) { c.Serial.Device = "" }, wantErr: "serial.device"},
		{name: "zero baud", mutate: func(c *Config) { c.Serial.BaudRate = 0 }, wantErr: "baud_rate"},
		{name: "bad cloud port", mutate: func(c *Config) { c.Cloud.Port = 70000 }, wantErr: "cloud.port"},
		{name: "cloud disabled ignores host", mutate: func(c *Config) { c.Cloud.Enabled = false; c.Cloud.Host = "" }},
		{name: "negative tariff", mutate: func(c *Config) { c.Accounting.KilowattCostDollars = -1 }, wantErr: "kilowatt_cost_dollars"},
		{name: "history without bucket", mutate: func(c *Config) { c.History.Enabled = true; c.History.Bucket = "" }, wantErr: "history.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPrint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.History.Enabled = true

	assert.NotPanics(t, func() {
		cfg.Print()
	})
}
