// Package config loads and validates the fleet's host and simulator
// configuration from YAML, with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HostConfig is the configuration for the healer-host binary: the
// control-plane process that connects to a simulator, detects faults,
// and orchestrates recovery.
type HostConfig struct {
	HAL       HALConfig       `yaml:"hal"`
	Detector  DetectorConfig  `yaml:"detector"`
	Healing   HealingConfig   `yaml:"healing"`
	AIPath    AIPathConfig    `yaml:"ai_path"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Emergency EmergencyConfig `yaml:"emergency"`
}

// SimConfig is the configuration for the tile-sim binary: the board
// simulator that the host connects to.
type SimConfig struct {
	Board     BoardConfig     `yaml:"board"`
	PR        PRConfig        `yaml:"pr_controller"`
	Listen    ListenConfig    `yaml:"listen"`
	Scenario  ScenarioConfig  `yaml:"scenario"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Emergency EmergencyConfig `yaml:"emergency"`
}

// HALConfig is the address and reconnection policy the host uses to
// reach the simulator.
type HALConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	QueueCapacity     int           `yaml:"queue_capacity"`
}

// DetectorConfig tunes the fault detector's heartbeat sweep and
// metric-threshold checks.
type DetectorConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ErrorThreshold   float64       `yaml:"error_threshold"`
}

// HealingConfig tunes the healing manager's orchestration.
type HealingConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	SandboxTimeout time.Duration `yaml:"sandbox_timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// AIPathConfig names the recovery model and the pool of spare tile ids
// the heuristic fallback may target.
type AIPathConfig struct {
	ModelPath string   `yaml:"model_path"`
	SparePool []string `yaml:"spare_pool"`
}

// BoardConfig sizes the simulated board.
type BoardConfig struct {
	Tiles         int           `yaml:"tiles"`
	Spares        int           `yaml:"spares"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	RegionMapPath string        `yaml:"region_map_path"`
}

// PRConfig tunes the simulated partial-reconfiguration controller.
type PRConfig struct {
	WarmSwapMS    int     `yaml:"warm_swap_ms"`
	ColdPRMsPerKB int     `yaml:"cold_pr_ms_per_kb"`
	FailureRate   float64 `yaml:"failure_rate"`
}

// ListenConfig is the address the simulator listens on and its
// heartbeat broadcast cadence.
type ListenConfig struct {
	Addr              string        `yaml:"addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ScenarioConfig names a demo/test fault script to run against the
// simulator, if any.
type ScenarioConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects the logger's level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig is the address the Prometheus /metrics endpoint binds to.
type MetricsConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// EmergencyConfig names the stop file the emergency controller watches.
type EmergencyConfig struct {
	StopFile             string        `yaml:"stop_file"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	EnableSignalHandlers bool          `yaml:"enable_signal_handlers"`
}

// DefaultHostConfig returns the healer-host's default configuration.
func DefaultHostConfig() *HostConfig {
	return &HostConfig{
		HAL: HALConfig{
			Host:              "127.0.0.1",
			Port:              9450,
			ReconnectInterval: time.Second,
			QueueCapacity:     256,
		},
		Detector: DetectorConfig{
			HeartbeatTimeout: 200 * time.Millisecond,
			ErrorThreshold:   3,
		},
		Healing: HealingConfig{
			CommandTimeout: 2 * time.Second,
			SandboxTimeout: 200 * time.Millisecond,
			HistoryLimit:   256,
		},
		AIPath: AIPathConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:    "127.0.0.1:9451",
			Enabled: true,
		},
		Emergency: EmergencyConfig{
			StopFile:     "/tmp/tilefleet-emergency-stop",
			PollInterval: time.Second,
		},
	}
}

// DefaultSimConfig returns the tile-sim's default configuration.
func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		Board: BoardConfig{
			Tiles:        16,
			Spares:       2,
			TickInterval: 100 * time.Millisecond,
		},
		PR: PRConfig{
			WarmSwapMS:    5,
			ColdPRMsPerKB: 2,
			FailureRate:   0.02,
		},
		Listen: ListenConfig{
			Addr:              "127.0.0.1:9450",
			HeartbeatInterval: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:    "127.0.0.1:9452",
			Enabled: true,
		},
		Emergency: EmergencyConfig{
			StopFile:     "/tmp/tilefleet-emergency-stop",
			PollInterval: time.Second,
		},
	}
}

// LoadHostConfig loads a HostConfig from a YAML file, expanding
// environment variables, or returns the defaults if path does not
// exist.
func LoadHostConfig(path string) (*HostConfig, error) {
	cfg := DefaultHostConfig()
	if path == "" {
		path = "host.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadSimConfig loads a SimConfig from a YAML file, expanding
// environment variables, or returns the defaults if path does not
// exist.
func LoadSimConfig(path string) (*SimConfig, error) {
	cfg := DefaultSimConfig()
	if path == "" {
		path = "sim.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes c to path as YAML.
func (c *HostConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Save writes c to path as YAML.
func (c *SimConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the host configuration for obviously broken values.
func (c *HostConfig) Validate() error {
	if c.HAL.Host == "" {
		return fmt.Errorf("hal.host is required")
	}
	if c.HAL.Port <= 0 {
		return fmt.Errorf("hal.port must be positive")
	}
	if c.Detector.ErrorThreshold <= 0 {
		return fmt.Errorf("detector.error_threshold must be positive")
	}
	if c.Healing.HistoryLimit < 1 {
		return fmt.Errorf("healing.history_limit must be at least 1")
	}
	return nil
}

// Validate checks the simulator configuration for obviously broken values.
func (c *SimConfig) Validate() error {
	if c.Board.Tiles < 1 {
		return fmt.Errorf("board.tiles must be at least 1")
	}
	if c.Board.Spares < 0 || c.Board.Spares >= c.Board.Tiles {
		return fmt.Errorf("board.spares must be between 0 and board.tiles-1")
	}
	if c.PR.FailureRate < 0 || c.PR.FailureRate > 1 {
		return fmt.Errorf("pr_controller.failure_rate must be between 0 and 1")
	}
	if c.Listen.Addr == "" {
		return fmt.Errorf("listen.addr is required")
	}
	return nil
}
