package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type config struct {
	Addr         string `yaml:"addr"`
	Model        string `yaml:"model"`
	LiveModel    string `yaml:"liveModel"`
	Instructions string `yaml:"instructions"`

	Upstream struct {
		BaseURL    string `yaml:"baseUrl"`
		LiveScheme string `yaml:"liveScheme"`
		LiveHost   string `yaml:"liveHost"`
	} `yaml:"upstream"`
}

func defaultConfig() config {
	cfg := config{
		Addr:      ":8080",
		Model:     "gemini-2.0-flash",
		LiveModel: "gemini-2.0-flash-live-001",
	}
	return cfg
}

// loadConfig reads the yaml config file when present and applies env
// overrides. A missing file is not an error; defaults apply.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
	}

	if addr, ok := os.LookupEnv("EMA_BRIDGE_ADDR"); ok {
		cfg.Addr = addr
	}
	if model, ok := os.LookupEnv("EMA_BRIDGE_MODEL"); ok {
		cfg.Model = model
	}
	return cfg, nil
}
