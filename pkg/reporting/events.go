package reporting

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutputFormat selects how the EventReporter renders announcements.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// EventReporter renders the healing manager's state transitions and
// terminal announcements to the console, in either plain text or
// newline-delimited JSON. It is the non-blocking on_event sink the
// healing manager calls; it never returns an error and never blocks.
type EventReporter struct {
	format OutputFormat
	logger *Logger
}

// NewEventReporter creates a reporter in the given format.
func NewEventReporter(format OutputFormat, logger *Logger) *EventReporter {
	return &EventReporter{format: format, logger: logger}
}

// ReportTransition announces a healing state-machine transition.
func (r *EventReporter) ReportTransition(nodeID, from, to string) {
	switch r.format {
	case FormatJSON:
		r.emitJSON(map[string]interface{}{
			"event":      "state_transition",
			"node_id":    nodeID,
			"from_state": from,
			"to_state":   to,
			"timestamp":  time.Now(),
		})
	default:
		fmt.Printf("[STATE] %s: %s -> %s\n", nodeID, from, to)
	}
}

// ReportFaultDetected announces a fault the detector emitted.
func (r *EventReporter) ReportFaultDetected(fault FaultRecord) {
	switch r.format {
	case FormatJSON:
		r.emitJSON(map[string]interface{}{
			"event":     "fault_detected",
			"fault":     fault,
			"timestamp": time.Now(),
		})
	default:
		fmt.Printf("[FAULT] %s on %s (severity=%s)\n", fault.FaultType, fault.NodeID, fault.Severity)
	}
}

// ReportHealingStarted announces that the healing manager has begun
// orchestrating a recovery for a fault.
func (r *EventReporter) ReportHealingStarted(nodeID string, plan PlanRecord) {
	switch r.format {
	case FormatJSON:
		r.emitJSON(map[string]interface{}{
			"event":     "healing_started",
			"node_id":   nodeID,
			"plan":      plan,
			"timestamp": time.Now(),
		})
	default:
		fmt.Printf("[HEAL] %s: plan=%s source=%s confidence=%.2f\n", nodeID, plan.Action, plan.Source, plan.Confidence)
	}
}

// ReportHealingSuccess announces a committed recovery.
func (r *EventReporter) ReportHealingSuccess(attempt HealingAttempt) {
	switch r.format {
	case FormatJSON:
		r.emitJSON(map[string]interface{}{
			"event":     "healing_success",
			"attempt":   attempt,
			"timestamp": time.Now(),
		})
	default:
		fmt.Printf("[HEAL] %s: success in %s\n", attempt.Fault.NodeID, attempt.Duration)
	}
}

// ReportHealingFailed announces a failed recovery and, if issued, its
// fallback action.
func (r *EventReporter) ReportHealingFailed(attempt HealingAttempt, fallback string) {
	switch r.format {
	case FormatJSON:
		r.emitJSON(map[string]interface{}{
			"event":     "healing_failed",
			"attempt":   attempt,
			"fallback":  fallback,
			"timestamp": time.Now(),
		})
	default:
		fmt.Printf("[HEAL] %s: failed, fallback=%s\n", attempt.Fault.NodeID, fallback)
	}
}

// ReportShutdown announces an emergency stop and the reason it fired.
func (r *EventReporter) ReportShutdown(reason string) {
	switch r.format {
	case FormatJSON:
		r.emitJSON(map[string]interface{}{
			"event":     "shutdown",
			"reason":    reason,
			"timestamp": time.Now(),
		})
	default:
		fmt.Printf("[SHUTDOWN] %s\n", reason)
	}
}

func (r *EventReporter) emitJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("failed to marshal event", "error", err)
		}
		return
	}
	fmt.Println(string(data))
}
