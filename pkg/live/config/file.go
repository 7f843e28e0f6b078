package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay applies a YAML file on top of base. Keys absent from the file keep
// their base values. If path is empty, VAI_LIVE_CONFIG is consulted; with
// neither, base is returned unchanged. The result is not validated.
func Overlay(base Config, path string) (Config, error) {
	if path == "" {
		path = os.Getenv("VAI_LIVE_CONFIG")
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}
