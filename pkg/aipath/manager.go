// Package aipath recommends a recovery plan for a fault context,
// preferring a previously successful plan, then a static model, then a
// heuristic, and finally a conservative fallback.
package aipath

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Context is the recovery context a plan is chosen for.
type Context struct {
	NodeID    string
	FaultType string
	Metrics   map[string]float64
}

// Plan is a recommended recovery action.
type Plan struct {
	Action     string  `json:"action"`
	SpareID    string  `json:"spare_id,omitempty"`
	Playbook   string  `json:"playbook,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// model is the optional static JSON lookup: fault_type -> spare_id.
type model struct {
	Mapping map[string]string `json:"mapping"`
}

// Manager recommends and remembers recovery plans.
type Manager struct {
	mu        sync.Mutex
	cache     map[string]Plan
	model     *model
	sparePool []string
}

// New creates a manager with a given spare pool (used by the
// heuristic fallback) and an optional model path; a missing or
// unreadable model file is not an error, it simply disables step 2 of
// the recommendation order.
func New(sparePool []string, modelPath string) *Manager {
	m := &Manager{
		cache:     make(map[string]Plan),
		sparePool: sparePool,
	}
	if modelPath != "" {
		if data, err := os.ReadFile(modelPath); err == nil {
			var mdl model
			if json.Unmarshal(data, &mdl) == nil {
				m.model = &mdl
			}
		}
	}
	return m
}

// Fingerprint is a stable hash over the coarse recovery context: equal
// fingerprints must yield equal cache lookups.
func Fingerprint(ctx Context) string {
	load := int(ctx.Metrics["load"] * 10)
	temp := int(ctx.Metrics["temp_c"])
	key := fmt.Sprintf("%s|%s|%d|%d", ctx.NodeID, ctx.FaultType, load, temp)
	sum := sha1.Sum([]byte(key))
	return fmt.Sprintf("%x", sum)
}

// Recommend returns a plan for ctx, trying the cache, then the static
// model, then a heuristic, then falling back to isolation.
func (m *Manager) Recommend(ctx Context) Plan {
	fp := Fingerprint(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.cache[fp]; ok {
		p.Confidence = 0.99
		p.Source = "cache"
		return p
	}

	if m.model != nil {
		if spare, ok := m.model.Mapping[ctx.FaultType]; ok {
			return Plan{
				Action:     "fast_swap",
				SpareID:    spare,
				Playbook:   "playbook_for_" + spare,
				Confidence: 0.85,
				Source:     "model",
			}
		}
	}

	for _, spare := range m.sparePool {
		if spare != ctx.NodeID {
			return Plan{
				Action:     "fast_swap",
				SpareID:    spare,
				Confidence: 0.5,
				Source:     "heuristic",
			}
		}
	}

	return Plan{Action: "isolate", Confidence: 0.1, Source: "fallback"}
}

// RegisterSuccess stores a copy of plan under ctx's fingerprint, so a
// subsequent Recommend with the same fingerprint short-circuits to the
// cache.
func (m *Manager) RegisterSuccess(ctx Context, plan Plan) {
	fp := Fingerprint(ctx)
	stored := plan

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[fp] = stored
}
