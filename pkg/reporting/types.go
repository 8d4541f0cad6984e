package reporting

import "time"

// FaultRecord is the detector's view of one emitted fault event,
// retained only for the in-memory history the healing manager and any
// embedding application consult; nothing here is persisted to disk.
type FaultRecord struct {
	FaultID   string                 `json:"fault_id"`
	NodeID    string                 `json:"node_id"`
	FaultType string                 `json:"fault_type"`
	Severity  string                 `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Evidence  map[string]interface{} `json:"evidence,omitempty"`
}

// PlanRecord is a recovery plan as recorded in a healing attempt.
type PlanRecord struct {
	Action     string  `json:"action"`
	SpareID    string  `json:"spare_id,omitempty"`
	Playbook   string  `json:"playbook,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// CommandResultRecord is the outcome reported by the simulator for a
// dispatched reconfiguration, if one was received before timeout.
type CommandResultRecord struct {
	CmdID         string  `json:"cmd_id"`
	Status        string  `json:"status"`
	DurationMS    float64 `json:"duration_ms"`
	SandboxPassed bool    `json:"sandbox_passed"`
}

// HealingAttempt is one pass of the healing manager's orchestration:
// the triggering fault, the plan chosen, the command outcome, and the
// final disposition.
type HealingAttempt struct {
	Fault     FaultRecord           `json:"fault"`
	Plan      PlanRecord            `json:"plan"`
	Result    *CommandResultRecord  `json:"result,omitempty"`
	Outcome   string                `json:"outcome"` // "success" or "failed"
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
}
