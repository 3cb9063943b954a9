// Package config provides configuration management for the homegrid hub.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Radio coordinator serial link
	Serial struct {
		Device        string `mapstructure:"device"`
		BaudRate      int    `mapstructure:"baud_rate"`
		ReadTimeoutMS int    `mapstructure:"read_timeout_ms"`
	} `mapstructure:"serial"`

	// Cayenne-style MQTT cloud
	Cloud struct {
		Enabled               bool   `mapstructure:"enabled"`
		Host                  string `mapstructure:"host"`
		Port                  int    `mapstructure:"port"`
		Username              string `mapstructure:"username"`
		Password              string `mapstructure:"password"`
		PumpIntervalSeconds   int    `mapstructure:"pump_interval_seconds"`
		PublishTimeoutSeconds int    `mapstructure:"publish_timeout_seconds"`
		ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
		InboxSize             int    `mapstructure:"inbox_size"`
	} `mapstructure:"cloud"`

	// Durable state
	Storage struct {
		SnapshotFile          string `mapstructure:"snapshot_file"`
		BackupIntervalSeconds int    `mapstructure:"backup_interval_seconds"`
		InventoryFile         string `mapstructure:"inventory_file"`
	} `mapstructure:"storage"`

	// Energy and cost accounting
	Accounting struct {
		SampleIntervalSeconds float64 `mapstructure:"sample_interval_seconds"`
		KilowattCostDollars   float64 `mapstructure:"kilowatt_cost_dollars"`
	} `mapstructure:"accounting"`

	// Worker tuning
	Hub struct {
		QueuePollTimeoutMS     int `mapstructure:"queue_poll_timeout_ms"`
		ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	} `mapstructure:"hub"`

	// HTTP status API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// InfluxDB telemetry history
	History struct {
		Enabled              bool   `mapstructure:"enabled"`
		URL                  string `mapstructure:"url"`
		Token                string `mapstructure:"token"`
		Org                  string `mapstructure:"org"`
		Bucket               string `mapstructure:"bucket"`
		BatchSize            int    `mapstructure:"batch_size"`
		FlushIntervalSeconds int    `mapstructure:"flush_interval_seconds"`
	} `mapstructure:"history"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	cfg.Serial.Device = "/dev/ttyUSB0"
	cfg.Serial.BaudRate = 115200
	cfg.Serial.ReadTimeoutMS = 2000

	cfg.Cloud.Enabled = true
	cfg.Cloud.Host = "mqtt.mydevices.com"
	cfg.Cloud.Port = 1883
	cfg.Cloud.PumpIntervalSeconds = 2
	cfg.Cloud.PublishTimeoutSeconds = 5
	cfg.Cloud.ConnectTimeoutSeconds = 10
	cfg.Cloud.InboxSize = 64

	cfg.Storage.SnapshotFile = "homegrid_persistent_data.json"
	cfg.Storage.BackupIntervalSeconds = 30
	cfg.Storage.InventoryFile = "inventory.yaml"

	cfg.Accounting.SampleIntervalSeconds = 1
	cfg.Accounting.KilowattCostDollars = 0.15

	cfg.Hub.QueuePollTimeoutMS = 1000
	cfg.Hub.ShutdownTimeoutSeconds = 10

	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	cfg.History.Enabled = false
	cfg.History.URL = "http://localhost:8086"
	cfg.History.Org = "homegrid"
	cfg.History.Bucket = "telemetry"
	cfg.History.BatchSize = 100
	cfg.History.FlushIntervalSeconds = 10

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// HOMEGRID_CLOUD_PASSWORD overrides cloud.password, and so on
	v.SetEnvPrefix("HOMEGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"log_level", "serial.device", "cloud.username", "cloud.password", "history.token"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("unable to bind %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would make the hub misbehave at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is required"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.ReadTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("serial.read_timeout_ms must be positive, got %d", c.Serial.ReadTimeoutMS))
	}
	if c.Cloud.Enabled {
		if c.Cloud.Host == "" {
			errs = append(errs, errors.New("cloud.host is required when the cloud is enabled"))
		}
		if c.Cloud.Port <= 0 || c.Cloud.Port > 65535 {
			errs = append(errs, fmt.Errorf("cloud.port out of range: %d", c.Cloud.Port))
		}
	}
	if c.Cloud.PumpIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("cloud.pump_interval_seconds must be positive, got %d", c.Cloud.PumpIntervalSeconds))
	}
	if c.Storage.SnapshotFile == "" {
		errs = append(errs, errors.New("storage.snapshot_file is required"))
	}
	if c.Storage.BackupIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("storage.backup_interval_seconds must be positive, got %d", c.Storage.BackupIntervalSeconds))
	}
	if c.Accounting.SampleIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("accounting.sample_interval_seconds must be positive, got %g", c.Accounting.SampleIntervalSeconds))
	}
	if c.Accounting.KilowattCostDollars < 0 {
		errs = append(errs, fmt.Errorf("accounting.kilowatt_cost_dollars must not be negative, got %g", c.Accounting.KilowattCostDollars))
	}
	if c.Hub.QueuePollTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("hub.queue_poll_timeout_ms must be positive, got %d", c.Hub.QueuePollTimeoutMS))
	}
	if c.History.Enabled && (c.History.URL == "" || c.History.Bucket == "") {
		errs = append(errs, errors.New("history.url and history.bucket are required when history is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SerialReadTimeout returns the serial read timeout as a duration.
func (c *Config) SerialReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond
}

// QueuePollTimeout returns the queue dequeue timeout as a duration.
func (c *Config) QueuePollTimeout() time.Duration {
	return time.Duration(c.Hub.QueuePollTimeoutMS) * time.Millisecond
}

// PumpInterval returns the cloud pump period.
func (c *Config) PumpInterval() time.Duration {
	return time.Duration(c.Cloud.PumpIntervalSeconds) * time.Second
}

// BackupInterval returns the snapshot period.
func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Storage.BackupIntervalSeconds) * time.Second
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("homegrid Hub Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("device", c.Serial.Device).
		Int("baud_rate", c.Serial.BaudRate).
		Int("read_timeout_ms", c.Serial.ReadTimeoutMS).
		Msg("Serial")

	logger.Info().Bool("enabled", c.Cloud.Enabled).Msg("Cloud Enabled")
	if c.Cloud.Enabled {
		logger.Info().
			Str("host", c.Cloud.Host).
			Int("port", c.Cloud.Port).
			Str("username", c.Cloud.Username).
			Int("pump_interval_seconds", c.Cloud.PumpIntervalSeconds).
			Msg("Cloud Configuration")
	}

	logger.Info().
		Str("snapshot_file", c.Storage.SnapshotFile).
		Int("backup_interval_seconds", c.Storage.BackupIntervalSeconds).
		Str("inventory_file", c.Storage.InventoryFile).
		Msg("Storage")

	logger.Info().
		Float64("sample_interval_seconds", c.Accounting.SampleIntervalSeconds).
		Float64("kilowatt_cost_dollars", c.Accounting.KilowattCostDollars).
		Msg("Accounting")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.History.Enabled).Msg("History Enabled")
	if c.History.Enabled {
		logger.Info().
			Str("url", c.History.URL).
			Str("org", c.History.Org).
			Str("bucket", c.History.Bucket).
			Msg("History Configuration")
	}

	logger.Info().Msg("-----------------------------")
}
