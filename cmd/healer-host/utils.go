package main

import (
	"fmt"
	"os"

	"github.com/jihwankim/tilefleet/pkg/config"
)

// loadConfig loads the host configuration from file, creating a
// default one on first run.
func loadConfig() (*config.HostConfig, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "host.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("config file not found, creating default configuration at: %s\n", configPath)

		cfg := config.DefaultHostConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadHostConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
