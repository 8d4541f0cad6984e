package board

import (
	"testing"

	"github.com/jihwankim/tilefleet/pkg/tile"
)

func TestNewBoardDesignatesSpares(t *testing.T) {
	b := New(4, 1, nil)
	spares := b.Spares()
	if len(spares) != 1 || spares[0] != "tile_3" {
		t.Fatalf("expected tile_3 as sole spare, got %v", spares)
	}
	snap := b.GetSnapshot()
	if !snap.Nodes["tile_3"].IsSpare {
		t.Fatalf("expected tile_3.is_spare = true")
	}
	if got := snap.Nodes["tile_3"].PRLoaded; got != "spare_tile_3" {
		t.Fatalf("expected pr_loaded = spare_tile_3, got %s", got)
	}
}

func TestInjectFaultUnknownTile(t *testing.T) {
	b := New(2, 1, nil)
	if err := b.InjectFault("tile_99", "overheat", nil, nil); err == nil {
		t.Fatalf("expected error for unknown tile")
	}
}

func TestPerformFastSwap(t *testing.T) {
	b := New(4, 1, nil)
	if err := b.InjectFault("tile_1", "missing_heartbeat", nil, nil); err != nil {
		t.Fatalf("inject: %v", err)
	}

	if err := b.PerformFastSwap("tile_1", "tile_3"); err != nil {
		t.Fatalf("swap: %v", err)
	}

	snap := b.GetSnapshot()
	if snap.Nodes["tile_3"].Status != tile.StatusOK {
		t.Fatalf("expected spare to become ok, got %s", snap.Nodes["tile_3"].Status)
	}
	if snap.Nodes["tile_1"].Status != tile.StatusIsolated {
		t.Fatalf("expected target to become isolated, got %s", snap.Nodes["tile_1"].Status)
	}
	if snap.Nodes["tile_1"].Metrics.Load != 0 {
		t.Fatalf("expected target load reset to 0")
	}
	if snap.Nodes["tile_3"].PRLoaded != "module_tile_1" {
		t.Fatalf("expected spare to inherit module_tile_1, got %s", snap.Nodes["tile_3"].PRLoaded)
	}
}

func TestPerformFastSwapRejectsNonSpare(t *testing.T) {
	b := New(4, 1, nil)
	if err := b.PerformFastSwap("tile_0", "tile_1"); err == nil {
		t.Fatalf("expected error when target spare is not designated")
	}
}

func TestFindAvailableSpare(t *testing.T) {
	b := New(4, 1, nil)
	id, ok := b.FindAvailableSpare()
	if !ok || id != "tile_3" {
		t.Fatalf("expected tile_3 available, got %s ok=%v", id, ok)
	}

	if err := b.PerformFastSwap("tile_0", "tile_3"); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if _, ok := b.FindAvailableSpare(); ok {
		t.Fatalf("expected no spare available after it was consumed")
	}
}

func TestLoadRegionMapMissingFileIsEmpty(t *testing.T) {
	m := LoadRegionMap("/nonexistent/path/region.json")
	if len(m) != 0 {
		t.Fatalf("expected empty map for missing file, got %v", m)
	}
}
