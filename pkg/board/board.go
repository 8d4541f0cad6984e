// Package board owns the fleet of tiles and the spare pool used to
// recover from a faulted tile via fast swap or partial reconfiguration.
package board

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jihwankim/tilefleet/pkg/tile"
)

// RegionEntry describes the partial-reconfiguration cost of a tile's
// logical module, loaded from an optional region map file.
type RegionEntry struct {
	BitstreamKB int `json:"bitstream_kb"`
}

// LoadRegionMap reads an optional region map JSON document. A missing
// file or a parse error yields an empty map; this is never fatal.
func LoadRegionMap(path string) map[string]RegionEntry {
	empty := map[string]RegionEntry{}
	if path == "" {
		return empty
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return empty
	}
	var m map[string]RegionEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return empty
	}
	return m
}

// Board owns an ordered set of tiles and a designated spare pool. It is
// the single writer of tile state; all mutating operations take an
// internal lock so a Board may be shared across goroutines (the HAL
// server's reader and the physics ticker, in particular).
type Board struct {
	mu        sync.Mutex
	tiles     map[string]*tile.Tile
	order     []string
	spares    []string
	regionMap map[string]RegionEntry
}

// New constructs a board of n tiles, designating the last nSpares
// (by sorted id) as spares.
func New(nTiles, nSpares int, regionMap map[string]RegionEntry) *Board {
	if regionMap == nil {
		regionMap = map[string]RegionEntry{}
	}
	b := &Board{
		tiles:     make(map[string]*tile.Tile, nTiles),
		order:     make([]string, 0, nTiles),
		spares:    make([]string, 0, nSpares),
		regionMap: regionMap,
	}

	for i := 0; i < nTiles; i++ {
		id := fmt.Sprintf("tile_%d", i)
		b.tiles[id] = tile.New(id, "compute", 40.0)
		b.order = append(b.order, id)
	}
	sort.Strings(b.order)

	spareStart := len(b.order) - nSpares
	if spareStart < 0 {
		spareStart = 0
	}
	for _, id := range b.order[spareStart:] {
		t := b.tiles[id]
		t.IsSpare = true
		t.PRLoaded = "spare_" + id
		b.spares = append(b.spares, id)
	}

	return b
}

// RegionMap returns the board's bitstream size table, for use by the PR
// controller when sizing a partial_reconfig action.
func (b *Board) RegionMap() map[string]RegionEntry {
	return b.regionMap
}

// Snapshot is the aggregate status message produced by the board,
// keyed by tile id in sorted order for deterministic tests.
type Snapshot struct {
	Timestamp time.Time
	Nodes     map[string]tile.State
}

// GetSnapshot returns a copy of every tile's current state.
func (b *Board) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	nodes := make(map[string]tile.State, len(b.order))
	for _, id := range b.order {
		nodes[id] = b.tiles[id].Snapshot()
	}
	return Snapshot{Timestamp: time.Now(), Nodes: nodes}
}

// TickAll advances every tile's physics model by one step.
func (b *Board) TickAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.order {
		b.tiles[id].Tick()
	}
}

// InjectFault applies a fault to a named tile. It returns an error if
// the tile does not exist.
func (b *Board) InjectFault(tileID, faultType string, duration *time.Duration, params map[string]float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tiles[tileID]
	if !ok {
		return fmt.Errorf("unknown tile: %s", tileID)
	}
	t.ApplyFault(faultType, duration, params)
	return nil
}

// ClearFault clears any forced fault on a named tile.
func (b *Board) ClearFault(tileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tiles[tileID]
	if !ok {
		return fmt.Errorf("unknown tile: %s", tileID)
	}
	t.ClearFault()
	return nil
}

// Isolate sets a tile's status to isolated, taking it out of service.
func (b *Board) Isolate(tileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tiles[tileID]
	if !ok {
		return fmt.Errorf("unknown tile: %s", tileID)
	}
	t.Status = tile.StatusIsolated
	return nil
}

// PerformFastSwap transfers target's logical module to spare, isolating
// target. spare must be a designated spare and target must exist;
// neither tile is mutated if validation fails.
func (b *Board) PerformFastSwap(target, spare string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isSpareLocked(spare) {
		return fmt.Errorf("not a designated spare: %s", spare)
	}
	dst, ok := b.tiles[spare]
	if !ok {
		return fmt.Errorf("unknown spare tile: %s", spare)
	}
	src, ok := b.tiles[target]
	if !ok {
		return fmt.Errorf("unknown target tile: %s", target)
	}

	prLoaded := src.PRLoaded
	if prLoaded == "" {
		prLoaded = "module_" + target
	}

	dst.PRLoaded = prLoaded
	dst.Status = tile.StatusOK
	dst.Metrics = src.Metrics

	src.Status = tile.StatusIsolated
	src.Metrics.Load = 0

	return nil
}

func (b *Board) isSpareLocked(id string) bool {
	for _, s := range b.spares {
		if s == id {
			return true
		}
	}
	return false
}

// FindAvailableSpare returns the first spare in id order whose status
// is ok, or false if none qualify.
func (b *Board) FindAvailableSpare() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.spares {
		if b.tiles[id].Status == tile.StatusOK {
			return id, true
		}
	}
	return "", false
}

// Spares returns a copy of the designated spare id list.
func (b *Board) Spares() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.spares))
	copy(out, b.spares)
	return out
}
