// Package validator checks a parsed scenario for issues beyond what
// YAML unmarshaling alone catches.
package validator

import (
	"fmt"
	"strings"

	"github.com/jihwankim/tilefleet/pkg/scenario"
)

// knownFaultTypes mirrors the fault types pkg/tile.ApplyFault recognizes.
var knownFaultTypes = map[string]bool{
	"missing_heartbeat": true,
	"stuck_output":      true,
	"overheat":          true,
	"crc_mismatch":      true,
	"telemetry_noise":   true,
}

// Validator accumulates non-fatal warnings and fatal errors found
// while checking a scenario.
type Validator struct {
	Warnings []string
	Errors   []string
}

// New creates an empty validator.
func New() *Validator {
	return &Validator{
		Warnings: make([]string, 0),
		Errors:   make([]string, 0),
	}
}

// Validate checks s and returns an error summarizing any fatal issues.
func (v *Validator) Validate(s *scenario.Scenario) error {
	v.Warnings = make([]string, 0)
	v.Errors = make([]string, 0)

	v.validateName(s)
	v.validateFaults(s)

	if len(v.Errors) > 0 {
		return fmt.Errorf("validation failed with %d errors", len(v.Errors))
	}
	return nil
}

// HasWarnings reports whether the last Validate call found warnings.
func (v *Validator) HasWarnings() bool {
	return len(v.Warnings) > 0
}

// HasErrors reports whether the last Validate call found fatal errors.
func (v *Validator) HasErrors() bool {
	return len(v.Errors) > 0
}

// GetReport returns a human-readable summary of warnings and errors.
func (v *Validator) GetReport() string {
	var sb strings.Builder

	if len(v.Errors) > 0 {
		sb.WriteString("ERRORS:\n")
		for _, err := range v.Errors {
			sb.WriteString(fmt.Sprintf("  - %s\n", err))
		}
	}

	if len(v.Warnings) > 0 {
		sb.WriteString("\nWARNINGS:\n")
		for _, warn := range v.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	if len(v.Errors) == 0 && len(v.Warnings) == 0 {
		sb.WriteString("Validation passed with no issues.\n")
	}

	return sb.String()
}

func (v *Validator) validateName(s *scenario.Scenario) {
	if s.Name == "" {
		v.Errors = append(v.Errors, "name is required")
	}
}

func (v *Validator) validateFaults(s *scenario.Scenario) {
	if len(s.Faults) == 0 {
		v.Errors = append(v.Errors, "faults must have at least one entry")
		return
	}

	for i, f := range s.Faults {
		if f.TileID == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("faults[%d].tile_id is required", i))
		}
		if f.FaultType == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("faults[%d].fault_type is required", i))
		} else if !knownFaultTypes[f.FaultType] {
			v.Warnings = append(v.Warnings, fmt.Sprintf("faults[%d].fault_type '%s' is not one of the recognized fault types", i, f.FaultType))
		}
		if f.AtMS < 0 {
			v.Errors = append(v.Errors, fmt.Sprintf("faults[%d].at_ms cannot be negative", i))
		}
		if f.DurationS < 0 {
			v.Errors = append(v.Errors, fmt.Sprintf("faults[%d].duration_s cannot be negative", i))
		}
	}
}
