// Package config loads gateway configuration from an optional YAML file
// with environment-variable overrides matching the deployment's variable
// names. The shared access key is the only hard requirement; everything
// else has a workable default.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Worklist WorklistConfig `yaml:"worklist"`
	LogLevel string         `yaml:"log_level"`
}

// RelayConfig configures the relay namespace and its two hybrid
// connections: one for inbound commands, one for outbound events.
type RelayConfig struct {
	Namespace        string `yaml:"namespace"`
	HybridConnection string `yaml:"hybrid_connection"`
	EventsConnection string `yaml:"events_connection"`
	KeyName          string `yaml:"key_name"`
	SharedAccessKey  string `yaml:"shared_access_key"`
}

// WorklistConfig configures the modality-facing DICOM server and its
// backing store.
type WorklistConfig struct {
	AETitle string `yaml:"ae_title"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
}

// Default returns the configuration defaults applied before file and
// environment values.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			HybridConnection: "gateway-commands",
			EventsConnection: "gateway-events",
			KeyName:          "RootManageSharedAccessKey",
		},
		Worklist: WorklistConfig{
			AETitle: "GATEWAY_MWL",
			Port:    11112,
			DBPath:  "worklist.db",
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given YAML file (skipped when path
// is empty), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Relay.Namespace, "AZURE_RELAY_NAMESPACE")
	setString(&c.Relay.HybridConnection, "AZURE_RELAY_HYBRID_CONNECTION")
	setString(&c.Relay.EventsConnection, "AZURE_RELAY_EVENTS_HYBRID_CONNECTION")
	setString(&c.Relay.KeyName, "AZURE_RELAY_KEY_NAME")
	setString(&c.Relay.SharedAccessKey, "AZURE_RELAY_SHARED_ACCESS_KEY")
	setString(&c.Worklist.AETitle, "WORKLIST_AET")
	setInt(&c.Worklist.Port, "WORKLIST_PORT")
	setString(&c.Worklist.DBPath, "WORKLIST_DB_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
}

// Validate checks the configuration for fatal startup errors.
func (c *Config) Validate() error {
	if c.Relay.Namespace == "" {
		return fmt.Errorf("relay namespace is required (AZURE_RELAY_NAMESPACE)")
	}
	if c.Relay.SharedAccessKey == "" {
		return fmt.Errorf("relay shared access key is required (AZURE_RELAY_SHARED_ACCESS_KEY)")
	}
	if c.Worklist.Port <= 0 || c.Worklist.Port > 65535 {
		return fmt.Errorf("worklist port %d out of range", c.Worklist.Port)
	}
	return nil
}

func setString(target *string, name string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func setInt(target *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
