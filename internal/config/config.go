// Package config loads and validates kerasbridge configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// Config represents the kerasbridge configuration.
type Config struct {
	// Issuer identifies who runs verifications, recorded in receipts.
	Issuer string `yaml:"issuer"`

	// Exporter configuration
	Exporter ExporterConfig `yaml:"exporter"`

	// Artifacts configuration
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Tolerances for prediction comparison
	Tolerances TolerancesConfig `yaml:"tolerances"`

	// Registry database configuration
	Registry RegistryConfig `yaml:"registry"`

	// Storage configuration for reports and receipts
	Storage StorageConfig `yaml:"storage"`

	// Receipt signing keys
	Keys KeysConfig `yaml:"keys"`
}

// ExporterConfig describes how to invoke the JavaScript exporter.
type ExporterConfig struct {
	// Command invokes the exporter, e.g. ["node", "exporter/export.js"].
	// Empty means discover via KERASBRIDGE_EXPORTER or standard locations.
	Command []string `yaml:"command,omitempty"`

	// WorkDir is the directory the exporter runs in.
	WorkDir string `yaml:"work_dir,omitempty"`

	// TimeoutSeconds bounds a single exporter invocation.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ArtifactsConfig describes where exported model artifacts live.
type ArtifactsConfig struct {
	// Dir holds one subdirectory per exported model plus fixture pairs.
	Dir string `yaml:"dir"`

	// Models lists the model names to export and verify.
	Models []string `yaml:"models,omitempty"`
}

// TolerancesConfig holds the comparison tolerances.
type TolerancesConfig struct {
	RTol float64 `yaml:"rtol"`
	ATol float64 `yaml:"atol"`
}

// RegistryConfig represents the run registry database configuration.
type RegistryConfig struct {
	Path        string `yaml:"path"`
	EnableWAL   bool   `yaml:"enable_wal"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

// StorageConfig represents blob storage configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // "local" or "memory"
	Path string `yaml:"path"` // For local storage
}

// KeysConfig represents receipt signing key configuration.
type KeysConfig struct {
	Private string `yaml:"private"` // Path to private key (PEM)
	Public  string `yaml:"public"`  // Path to public key (PEM)
}

// DefaultModels is the exporter's standard model set.
var DefaultModels = []string{
	"mlp",
	"cnn",
	"depthwise_cnn",
	"simple_rnn",
	"gru",
	"bidirectional_lstm",
	"time_distributed_lstm",
	"one_dimensional",
	"functional_merge",
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Issuer: "kerasbridge",
		Exporter: ExporterConfig{
			TimeoutSeconds: 300,
		},
		Artifacts: ArtifactsConfig{
			Dir:    "./artifacts",
			Models: append([]string(nil), DefaultModels...),
		},
		Tolerances: TolerancesConfig{
			RTol: tensor.DefaultRTol,
			ATol: tensor.DefaultATol,
		},
		Registry: RegistryConfig{
			Path:        "kerasbridge.db",
			EnableWAL:   true,
			BusyTimeout: 5000,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "./storage",
		},
		Keys: KeysConfig{
			Private: "receipt-key.pem",
			Public:  "receipt-key.pub",
		},
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir is required")
	}

	if c.Tolerances.RTol < 0 || c.Tolerances.ATol < 0 {
		return fmt.Errorf("tolerances must be non-negative")
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry path is required")
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for local storage")
		}
	case "memory":
	case "":
		return fmt.Errorf("storage type is required")
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}

	if c.Keys.Private == "" {
		return fmt.Errorf("private key path is required")
	}
	if c.Keys.Public == "" {
		return fmt.Errorf("public key path is required")
	}

	if c.Exporter.TimeoutSeconds < 0 {
		return fmt.Errorf("exporter timeout must be non-negative")
	}

	return nil
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
