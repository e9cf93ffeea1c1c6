// Package config handles configuration loading and validation.
package config

import (
	"os"
	"path/filepath"

	"github.com/commatea/modbridge/pkg/logger"
	"github.com/commatea/modbridge/pkg/transport"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default config file locations.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./modbridge.yaml",
	"./modbridge.yml",
	"~/.config/modbridge/config.yaml",
	"/etc/modbridge/config.yaml",
}

// Config is the top-level application configuration.
type Config struct {
	// Bridges defines the bridges to run.
	Bridges []BridgeConfig `yaml:"bridges" json:"bridges" validate:"required,min=1,dive"`

	// Logging defines logging settings.
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Metrics defines metrics settings.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// BridgeConfig defines one bridge between two endpoints.
type BridgeConfig struct {
	// Name is the unique bridge name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Near is the endpoint requests arrive on.
	Near EndpointConfig `yaml:"near" json:"near" validate:"required"`

	// Far is the endpoint the device sits behind.
	Far EndpointConfig `yaml:"far" json:"far" validate:"required"`

	// ResponseTimeout bounds the wait for the device's answer.
	ResponseTimeout transport.Duration `yaml:"response_timeout" json:"response_timeout"`
}

// EndpointConfig pairs a transport with the wire protocol spoken on it.
type EndpointConfig struct {
	// Transport defines the byte link.
	Transport transport.Config `yaml:"transport" json:"transport" validate:"required"`

	// Protocol is the Modbus wire protocol: "ascii", "rtu" or "tcp".
	Protocol string `yaml:"protocol" json:"protocol" validate:"required,oneof=ascii rtu tcp"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	// Enabled exposes the prometheus endpoint.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen is the metrics listen address, e.g. ":9090".
	Listen string `yaml:"listen" json:"listen"`
}

// Load loads configuration from path, or from the default locations when
// path is empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return Default(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// Save writes configuration to file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Default returns a configuration with no bridges and sane logging.
func Default() *Config {
	return &Config{
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
	}
}
