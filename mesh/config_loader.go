package mesh

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the unified configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// MQTT is optional (the service can run from a pre-populated store),
	// but a configured broker needs a topic root to subscribe to.
	if config.MQTT.Broker != "" && config.MQTT.TopicRoot == "" {
		return nil, fmt.Errorf("mqtt.topicRoot is required when mqtt.broker is set")
	}

	if config.Storage.Path == "" {
		config.Storage.Path = "tracemesh.db"
	}
	if config.Storage.RetentionHours < 0 {
		return nil, fmt.Errorf("storage.retentionHours must not be negative")
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
