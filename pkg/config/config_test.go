package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadHostConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadHostConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HAL.Port != 9450 {
		t.Fatalf("expected default port 9450, got %d", cfg.HAL.Port)
	}
}

func TestLoadHostConfigExpandsEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	if err := os.WriteFile(path, []byte("hal:\n  host: \"${TEST_HAL_HOST}\"\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	os.Setenv("TEST_HAL_HOST", "10.0.0.5")
	defer os.Unsetenv("TEST_HAL_HOST")

	cfg, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HAL.Host != "10.0.0.5" || cfg.HAL.Port != 9999 {
		t.Fatalf("expected overridden hal config, got %+v", cfg.HAL)
	}
}

func TestHostConfigValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultHostConfig()
	cfg.HAL.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero port")
	}
}

func TestSimConfigValidateRejectsTooManySpares(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Board.Tiles = 4
	cfg.Board.Spares = 4
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when spares >= tiles")
	}
}

func TestSaveThenLoadHostConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	cfg := DefaultHostConfig()
	cfg.HAL.Port = 12345
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.HAL.Port != 12345 {
		t.Fatalf("expected round-tripped port 12345, got %d", loaded.HAL.Port)
	}
}
