package detector

import (
	"testing"
	"time"

	"github.com/jihwankim/tilefleet/pkg/wire"
)

func withFixedClock(d *Detector, t time.Time) {
	d.now = func() time.Time { return t }
}

func TestErrorCountThresholdEmitsMajor(t *testing.T) {
	d := New(Config{HeartbeatTimeout: time.Hour, ErrorThreshold: 3})
	withFixedClock(d, time.Now())

	msg := wire.HeartbeatMessage("tile_0", 0, map[string]interface{}{"error_count": 5.0}, "degraded")
	faults := d.Process(msg)

	if len(faults) != 1 || faults[0].FaultType != "error_count_exceeded" {
		t.Fatalf("expected one error_count_exceeded fault, got %+v", faults)
	}
	if faults[0].Severity != "major" {
		t.Fatalf("expected severity major, got %s", faults[0].Severity)
	}
}

func TestHeartbeatSweepIdempotentWithinOnePass(t *testing.T) {
	d := New(Config{HeartbeatTimeout: 50 * time.Millisecond, ErrorThreshold: 1000})
	base := time.Now()
	withFixedClock(d, base)

	d.Process(wire.HeartbeatMessage("tile_0", 0, map[string]interface{}{"error_count": 0.0}, "ok"))

	withFixedClock(d, base.Add(time.Second))
	faults := d.Process(wire.HeartbeatMessage("tile_1", 0, map[string]interface{}{"error_count": 0.0}, "ok"))

	count := 0
	for _, f := range faults {
		if f.FaultType == "missing_heartbeat" && f.NodeID == "tile_0" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one missing_heartbeat for tile_0, got %d in %+v", count, faults)
	}
}

func TestMissingHeartbeatSeverityEscalatesToCritical(t *testing.T) {
	d := New(Config{HeartbeatTimeout: 200 * time.Millisecond, ErrorThreshold: 1000})
	base := time.Now()
	withFixedClock(d, base)
	d.Process(wire.HeartbeatMessage("tile_0", 0, map[string]interface{}{"error_count": 0.0}, "ok"))

	withFixedClock(d, base.Add(1100*time.Millisecond))
	faults := d.Process(wire.HeartbeatMessage("tile_1", 0, map[string]interface{}{"error_count": 0.0}, "ok"))

	var found bool
	for _, f := range faults {
		if f.NodeID == "tile_0" && f.FaultType == "missing_heartbeat" {
			found = true
			if f.Severity != "critical" {
				t.Fatalf("expected critical severity after > 5x timeout, got %s", f.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected a missing_heartbeat fault for tile_0")
	}
}

func TestStatusSnapshotUnpacksNodes(t *testing.T) {
	d := New(Config{HeartbeatTimeout: time.Hour, ErrorThreshold: 2})
	withFixedClock(d, time.Now())

	snap := wire.StatusSnapshotMessage(0, map[string]interface{}{
		"tile_0": map[string]interface{}{
			"metrics": map[string]interface{}{"error_count": 5.0},
		},
	})
	faults := d.Process(snap)
	if len(faults) != 1 || faults[0].NodeID != "tile_0" {
		t.Fatalf("expected threshold fault extracted from snapshot, got %+v", faults)
	}
}

func TestSweepDoesNotFireForRecentlySeenNode(t *testing.T) {
	d := New(Config{HeartbeatTimeout: time.Second, ErrorThreshold: 1000})
	withFixedClock(d, time.Now())

	d.Process(wire.HeartbeatMessage("tile_0", 0, map[string]interface{}{"error_count": 0.0}, "ok"))
	faults := d.Process(wire.HeartbeatMessage("tile_0", 0, map[string]interface{}{"error_count": 0.0}, "ok"))

	for _, f := range faults {
		if f.FaultType == "missing_heartbeat" {
			t.Fatalf("unexpected missing_heartbeat for a recently seen node")
		}
	}
}
