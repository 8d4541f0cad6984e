// Package prcontroller executes the reconfiguration actions the
// simulator's HAL server receives from the host: fast swap, partial
// reconfiguration, and isolation.
package prcontroller

import (
	"math/rand"
	"time"

	"github.com/jihwankim/tilefleet/pkg/board"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// Controller executes cmd_reconfigure commands against a Board,
// simulating the wall-clock cost of each action and injecting
// occasional random failures the way real reconfiguration hardware
// would.
type Controller struct {
	board         *board.Board
	warmSwapMS    float64
	coldPRMsPerKB float64
	failureRate   float64
}

// Config holds the PR controller's timing and failure-rate tunables.
type Config struct {
	WarmSwapMS    float64
	ColdPRMsPerKB float64
	FailureRate   float64
}

// DefaultConfig returns the tunables named in the external interfaces
// table: 5ms warm swaps, 2ms/KB cold reconfiguration, 2% failure rate.
func DefaultConfig() Config {
	return Config{WarmSwapMS: 5, ColdPRMsPerKB: 2, FailureRate: 0.02}
}

// New creates a PR controller bound to a board.
func New(b *board.Board, cfg Config) *Controller {
	return &Controller{
		board:         b,
		warmSwapMS:    cfg.WarmSwapMS,
		coldPRMsPerKB: cfg.ColdPRMsPerKB,
		failureRate:   cfg.FailureRate,
	}
}

// HandleReconfigure executes cmd and returns the corresponding
// cmd_result message. cmd_id is always echoed from the request.
func (c *Controller) HandleReconfigure(cmd wire.Message) wire.Message {
	start := time.Now()
	cmdID := cmd.String("cmd_id")
	target := cmd.String("target_node")
	action := cmd.String("action")

	switch action {
	case "fast_swap":
		c.sleep(c.warmSwapMS/1000 + jitter(0.001, 0.01))
		_ = c.board.PerformFastSwap(target, cmd.String("spare_id"))

	case "partial_reconfig":
		kb := c.bitstreamKB(target)
		c.sleep(float64(kb)*c.coldPRMsPerKB/1000 + jitter(0.01, 0.05))
		// Cleared unconditionally: the controller does not verify that
		// this reconfiguration actually addressed the originating
		// fault, matching the upstream reconfiguration firmware.
		_ = c.board.ClearFault(target)

	case "isolate":
		c.sleep(0.01)
		_ = c.board.Isolate(target)

	default:
		c.sleep(0.02)
		durationMS := float64(time.Since(start).Microseconds()) / 1000.0
		return wire.CmdResultMessage(cmdID, "noop", durationMS, true)
	}

	failed := rand.Float64() < c.failureRate
	durationMS := float64(time.Since(start).Microseconds()) / 1000.0
	if failed {
		return wire.CmdResultMessage(cmdID, "failed", durationMS, false)
	}
	return wire.CmdResultMessage(cmdID, "success", durationMS, true)
}

func (c *Controller) bitstreamKB(target string) int {
	entry, ok := c.board.RegionMap()[target]
	if !ok || entry.BitstreamKB < 1 {
		if ok && entry.BitstreamKB < 1 {
			return 1
		}
		return 50
	}
	return entry.BitstreamKB
}

func (c *Controller) sleep(seconds float64) {
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}

func jitter(minSeconds, maxSeconds float64) float64 {
	return minSeconds + rand.Float64()*(maxSeconds-minSeconds)
}
