// Package scenario parses and validates a timed sequence of faults for
// a simulator to inject into named tiles at startup, for repeatable
// demos and integration tests.
package scenario

// Scenario is a named sequence of scheduled fault injections.
type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Faults      []ScheduledFault `yaml:"faults"`
}

// ScheduledFault is one fault injected at a fixed offset from
// scenario start.
type ScheduledFault struct {
	AtMS      int                    `yaml:"at_ms"`
	TileID    string                 `yaml:"tile_id"`
	FaultType string                 `yaml:"fault_type"`
	DurationS float64                `yaml:"duration_s,omitempty"`
	Params    map[string]interface{} `yaml:"params,omitempty"`
}
