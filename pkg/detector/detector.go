// Package detector implements the host's fault detection rules:
// metric-threshold checks on ingested telemetry and a heartbeat-gap
// sweep over every node the detector has ever seen.
package detector

import (
	"fmt"
	"sync"
	"time"

	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// Config holds the detector's threshold tunables.
type Config struct {
	HeartbeatTimeout time.Duration
	ErrorThreshold   float64
}

// DefaultConfig returns the tunables named in the external interfaces
// table: 200ms heartbeat timeout, error_count threshold of 3.
func DefaultConfig() Config {
	return Config{HeartbeatTimeout: 200 * time.Millisecond, ErrorThreshold: 3}
}

// Detector tracks the last-seen time and last metrics of every node it
// has observed and emits fault records on threshold or heartbeat-gap
// conditions. Process is typically called from a single dispatcher
// goroutine, but the internal maps are guarded in case of concurrent
// callers.
type Detector struct {
	cfg Config

	mu          sync.Mutex
	lastSeen    map[string]time.Time
	lastMetrics map[string]map[string]interface{}

	now func() time.Time
}

// New creates a detector with the given configuration.
func New(cfg Config) *Detector {
	return &Detector{
		cfg:         cfg,
		lastSeen:    make(map[string]time.Time),
		lastMetrics: make(map[string]map[string]interface{}),
		now:         time.Now,
	}
}

// Process ingests one telemetry message — a heartbeat, a status
// snapshot (both are accepted, per the wire protocol's node map), or a
// fault_event pass-through — and returns zero or more faults it
// detected. A heartbeat sweep over all known nodes always runs as part
// of this call.
func (d *Detector) Process(msg wire.Message) []reporting.FaultRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var faults []reporting.FaultRecord

	switch msg.Type() {
	case wire.MsgStatusSnapshot:
		for nodeID, raw := range msg.Map("nodes") {
			if body, ok := raw.(map[string]interface{}); ok {
				faults = append(faults, d.processNodeLocked(nodeID, wire.Message(body), now)...)
			}
		}

	case wire.MsgHeartbeat:
		faults = append(faults, d.processNodeLocked(msg.String("node_id"), msg, now)...)

	case wire.MsgFaultEvent:
		faults = append(faults, reporting.FaultRecord{
			FaultID:   msg.String("fault_id"),
			NodeID:    msg.String("node_id"),
			FaultType: msg.String("fault_type"),
			Severity:  msg.String("severity"),
			Timestamp: now,
			Evidence:  msg.Map("evidence"),
		})

	default:
		if msg.HasField("node_id") {
			faults = append(faults, d.processNodeLocked(msg.String("node_id"), msg, now)...)
		}
	}

	faults = append(faults, d.checkHeartbeatGapsLocked(now)...)
	return faults
}

func (d *Detector) processNodeLocked(nodeID string, body wire.Message, now time.Time) []reporting.FaultRecord {
	if nodeID == "" {
		return nil
	}
	d.lastSeen[nodeID] = now

	metrics := body.Map("metrics")
	if metrics == nil {
		return nil
	}
	d.lastMetrics[nodeID] = metrics

	errorCount, _ := metrics["error_count"].(float64)
	if errorCount >= d.cfg.ErrorThreshold {
		return []reporting.FaultRecord{d.newFault(nodeID, "error_count_exceeded", "major", now, metrics)}
	}
	if statusCode, ok := metrics["status_code"].(float64); ok && statusCode != 0 {
		return []reporting.FaultRecord{d.newFault(nodeID, "status_nonzero", "minor", now, metrics)}
	}
	return nil
}

// checkHeartbeatGapsLocked sweeps every known node for a stale
// last-seen time. Emitting a gap event rewrites last_seen to now,
// preventing the same node from flooding the caller with repeat
// events on every subsequent message until it is actually heard from
// again.
func (d *Detector) checkHeartbeatGapsLocked(now time.Time) []reporting.FaultRecord {
	var faults []reporting.FaultRecord
	for nodeID, lastSeen := range d.lastSeen {
		delta := now.Sub(lastSeen)
		if delta <= d.cfg.HeartbeatTimeout {
			continue
		}
		severity := "major"
		if delta > 5*d.cfg.HeartbeatTimeout {
			severity = "critical"
		}
		faults = append(faults, d.newFault(nodeID, "missing_heartbeat", severity, now, map[string]interface{}{
			"delta_ms": float64(delta.Milliseconds()),
		}))
		d.lastSeen[nodeID] = now
	}
	return faults
}

func (d *Detector) newFault(nodeID, faultType, severity string, now time.Time, evidence map[string]interface{}) reporting.FaultRecord {
	return reporting.FaultRecord{
		FaultID:   fmt.Sprintf("%s_%s_%d", faultType, nodeID, now.Unix()),
		NodeID:    nodeID,
		FaultType: faultType,
		Severity:  severity,
		Timestamp: now,
		Evidence:  evidence,
	}
}
