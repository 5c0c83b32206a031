package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSessionFile overlays the YAML document at path onto base. Keys absent
// from the file keep the value from base.
func LoadSessionFile(path string, base SessionOptions) (SessionOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read session file: %w", err)
	}
	return ParseSession(data, base)
}

// ParseSession overlays a YAML document onto base.
func ParseSession(data []byte, base SessionOptions) (SessionOptions, error) {
	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return base, fmt.Errorf("failed to parse session options: %w", err)
	}
	return opts, nil
}
