package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/olkham/inference-node/pkg/errors"
)

// PublisherConfig is the on-disk configuration for a publisher: the node
// identity and the list of destinations to configure at startup.
type PublisherConfig struct {
	NodeID       string               `yaml:"node_id" json:"node_id"`
	LogLevel     string               `yaml:"log_level" json:"log_level"`
	Destinations []*DestinationConfig `yaml:"destinations" json:"destinations"`
}

// LoadFile reads and validates a publisher configuration from a YAML file.
func LoadFile(path string) (*PublisherConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes and validates a publisher configuration.
func Parse(data []byte) (*PublisherConfig, error) {
	var cfg PublisherConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config")
	}

	seen := make(map[string]bool, len(cfg.Destinations))
	for _, dc := range cfg.Destinations {
		if dc.Options == nil {
			dc.Options = Options{}
		}
		if err := dc.Validate(); err != nil {
			return nil, err
		}
		if seen[dc.Name] {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate destination name %q", dc.Name)
		}
		seen[dc.Name] = true
	}

	return &cfg, nil
}
