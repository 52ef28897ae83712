package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bridge-rpc/fault"
)

// Load reads a YAML option file and parses it like an option map.
//
//	address: tcp://127.0.0.1:8089/bridge
//	prefer_values: true
//	log_level: 4
func Load(path string) (*Config, error) {
	options, err := LoadOptions(path)
	if err != nil {
		return nil, err
	}
	return Parse(options)
}

// LoadOptions reads a YAML option file without interpreting it, so callers can
// overlay flags before calling Parse.
func LoadOptions(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(err, fault.KindConfiguration, fmt.Sprintf("config load failed (%s)", path))
	}
	options := map[string]any{}
	if err := yaml.Unmarshal(data, &options); err != nil {
		return nil, fault.Wrap(err, fault.KindConfiguration, fmt.Sprintf("config parse failed (%s)", path))
	}
	return options, nil
}
