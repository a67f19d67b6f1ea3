package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration, loaded from a YAML file. Flags
// override file values.
type Config struct {
	// UDID is the default device to talk to when -u is not given.
	UDID string `yaml:"udid,omitempty"`

	// RecordDir overrides the pair record directory.
	RecordDir string `yaml:"record_dir,omitempty"`

	// ProtocolLog is a file path to append protocol log events to.
	ProtocolLog string `yaml:"protocol_log,omitempty"`

	// Interface restricts discovery to one network interface.
	Interface string `yaml:"interface,omitempty"`
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "idevice", "config.yaml")
}

// LoadConfig reads a config file. A missing file yields an empty
// config; a malformed one is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
