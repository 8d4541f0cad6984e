package prcontroller

import (
	"testing"
	"time"

	"github.com/jihwankim/tilefleet/pkg/board"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

func TestHandleReconfigureFastSwap(t *testing.T) {
	b := board.New(4, 1, nil)
	c := New(b, Config{WarmSwapMS: 1, ColdPRMsPerKB: 1, FailureRate: 0})

	cmd := wire.CmdReconfigureMessage("cmd_1", "tile_1", "fast_swap", "tile_3", nil)
	result := c.HandleReconfigure(cmd)

	if result.String("status") != "success" {
		t.Fatalf("expected success, got %v", result["status"])
	}
	if result.String("cmd_id") != "cmd_1" {
		t.Fatalf("expected cmd_id to be echoed")
	}

	snap := b.GetSnapshot()
	if snap.Nodes["tile_1"].Status != "isolated" {
		t.Fatalf("expected target isolated after swap, got %s", snap.Nodes["tile_1"].Status)
	}
}

func TestHandleReconfigurePartialReconfigTiming(t *testing.T) {
	b := board.New(3, 0, map[string]board.RegionEntry{"tile_2": {BitstreamKB: 100}})
	c := New(b, Config{WarmSwapMS: 5, ColdPRMsPerKB: 2, FailureRate: 0})

	start := time.Now()
	result := c.HandleReconfigure(wire.CmdReconfigureMessage("cmd_2", "tile_2", "partial_reconfig", "", nil))
	elapsed := time.Since(start)

	if elapsed < 200*time.Millisecond {
		t.Fatalf("expected partial_reconfig to take at least 200ms for 100KB at 2ms/KB, took %v", elapsed)
	}
	if result.Float("duration_ms") < 200 {
		t.Fatalf("expected reported duration_ms >= 200, got %v", result["duration_ms"])
	}
}

func TestHandleReconfigureAlwaysFails(t *testing.T) {
	b := board.New(2, 1, nil)
	c := New(b, Config{WarmSwapMS: 1, ColdPRMsPerKB: 1, FailureRate: 1.0})

	result := c.HandleReconfigure(wire.CmdReconfigureMessage("cmd_3", "tile_0", "fast_swap", "tile_1", nil))
	if result.String("status") != "failed" {
		t.Fatalf("expected forced failure, got %v", result["status"])
	}
	if result.Bool("sandbox_passed") {
		t.Fatalf("expected sandbox_passed = false on failure")
	}
}

func TestHandleReconfigureUnknownAction(t *testing.T) {
	b := board.New(1, 0, nil)
	c := New(b, DefaultConfig())
	result := c.HandleReconfigure(wire.CmdReconfigureMessage("cmd_4", "tile_0", "frobnicate", "", nil))
	if result.String("status") != "noop" {
		t.Fatalf("expected noop status for unknown action, got %v", result["status"])
	}
}
