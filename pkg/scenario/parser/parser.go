// Package parser reads scenario YAML files into scenario.Scenario values.
package parser

import (
	"fmt"
	"os"

	"github.com/jihwankim/tilefleet/pkg/scenario"
	"gopkg.in/yaml.v3"
)

// ParseFile reads and parses a scenario from a YAML file.
func ParseFile(path string) (*scenario.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse parses a scenario from YAML bytes.
func Parse(data []byte) (*scenario.Scenario, error) {
	var s scenario.Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateRequiredFields(&s); err != nil {
		return nil, err
	}

	return &s, nil
}

// validateRequiredFields rejects a scenario missing the fields every
// scheduled fault needs to be injected.
func validateRequiredFields(s *scenario.Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Faults) == 0 {
		return fmt.Errorf("faults is required and must have at least one entry")
	}
	for i, f := range s.Faults {
		if f.TileID == "" {
			return fmt.Errorf("faults[%d].tile_id is required", i)
		}
		if f.FaultType == "" {
			return fmt.Errorf("faults[%d].fault_type is required", i)
		}
		if f.AtMS < 0 {
			return fmt.Errorf("faults[%d].at_ms cannot be negative", i)
		}
	}
	return nil
}
