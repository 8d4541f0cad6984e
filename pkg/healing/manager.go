// Package healing implements the orchestration state machine that
// turns a detected fault into a dispatched reconfiguration, a sandbox
// verification, and a commit-or-fallback decision.
package healing

import (
	"context"
	"sync"
	"time"

	"github.com/jihwankim/tilefleet/pkg/aipath"
	"github.com/jihwankim/tilefleet/pkg/cmdsender"
	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// State is a step in a single fault's healing orchestration.
type State int

const (
	StateReceived State = iota
	StatePlanned
	StateDispatched
	StateAcked
	StateCompleted
	StateTimedOut
	StateFailed
	StateFallbackIssued
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StatePlanned:
		return "PLANNED"
	case StateDispatched:
		return "DISPATCHED"
	case StateAcked:
		return "ACKED"
	case StateCompleted:
		return "COMPLETED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateFailed:
		return "FAILED"
	case StateFallbackIssued:
		return "FALLBACK_ISSUED"
	default:
		return "UNKNOWN"
	}
}

// Reporter announces the healing manager's state transitions and
// terminal outcomes. *reporting.EventReporter implements this; tests
// substitute a fake to assert exact transition sequences.
type Reporter interface {
	ReportTransition(nodeID, from, to string)
	ReportHealingStarted(nodeID string, plan reporting.PlanRecord)
	ReportHealingSuccess(attempt reporting.HealingAttempt)
	ReportHealingFailed(attempt reporting.HealingAttempt, fallback string)
}

// Config holds the healing manager's tunables.
type Config struct {
	SandboxTimeout time.Duration
	CommandTimeout time.Duration
	HistoryLimit   int
}

// DefaultConfig returns the tunable named in the external interfaces
// table: a 0.2s sandbox verification window.
func DefaultConfig() Config {
	return Config{SandboxTimeout: 200 * time.Millisecond, CommandTimeout: 2 * time.Second, HistoryLimit: 256}
}

// Manager orchestrates fault recovery. HandleFault is non-blocking:
// each call spawns its own orchestration goroutine so a slow recovery
// never stalls the detector that feeds it.
type Manager struct {
	ai       *aipath.Manager
	sender   *cmdsender.Sender
	reporter Reporter
	cfg      Config

	mu      sync.Mutex
	history []reporting.HealingAttempt

	outcomeMu sync.Mutex
	onOutcome func(outcome string, duration time.Duration)

	wg sync.WaitGroup
}

// New creates a healing manager.
func New(ai *aipath.Manager, sender *cmdsender.Sender, reporter Reporter, cfg Config) *Manager {
	if cfg.SandboxTimeout <= 0 {
		cfg.SandboxTimeout = 200 * time.Millisecond
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 256
	}
	return &Manager{ai: ai, sender: sender, reporter: reporter, cfg: cfg}
}

// HandleFault spawns an orchestration task for fault and returns
// immediately.
func (m *Manager) HandleFault(ctx context.Context, fault reporting.FaultRecord) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runHeal(ctx, fault)
	}()
}

// SetOutcomeHook registers fn to be called with the outcome and
// duration of every completed healing attempt. Used to feed an
// external metrics sink without coupling the manager to one.
func (m *Manager) SetOutcomeHook(fn func(outcome string, duration time.Duration)) {
	m.outcomeMu.Lock()
	defer m.outcomeMu.Unlock()
	m.onOutcome = fn
}

func (m *Manager) reportOutcome(attempt reporting.HealingAttempt) {
	m.outcomeMu.Lock()
	fn := m.onOutcome
	m.outcomeMu.Unlock()
	if fn != nil {
		fn(attempt.Outcome, attempt.Duration)
	}
}

// Wait blocks until every in-flight orchestration task has finished.
// Used during shutdown to let healing attempts drain.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// History returns a copy of the bounded in-memory attempt ledger.
func (m *Manager) History() []reporting.HealingAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reporting.HealingAttempt, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) appendHistory(attempt reporting.HealingAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, attempt)
	if excess := len(m.history) - m.cfg.HistoryLimit; excess > 0 {
		m.history = m.history[excess:]
	}
}

func (m *Manager) transition(nodeID string, from, to State) {
	if m.reporter != nil {
		m.reporter.ReportTransition(nodeID, from.String(), to.String())
	}
}

func (m *Manager) runHeal(ctx context.Context, fault reporting.FaultRecord) {
	m.transition(fault.NodeID, State(-1), StateReceived)

	aiCtx := aipath.Context{
		NodeID:    fault.NodeID,
		FaultType: fault.FaultType,
		Metrics:   evidenceToMetrics(fault.Evidence),
	}
	plan := m.ai.Recommend(aiCtx)
	m.transition(fault.NodeID, StateReceived, StatePlanned)
	if m.reporter != nil {
		m.reporter.ReportHealingStarted(fault.NodeID, planRecord(plan))
	}

	cmd := wire.CmdReconfigureMessage("", fault.NodeID, plan.Action, plan.SpareID, nil)
	m.transition(fault.NodeID, StatePlanned, StateDispatched)

	start := time.Now()
	result, sendErr := m.sender.Send(ctx, cmd, true, m.cfg.CommandTimeout)

	var resultRecord *reporting.CommandResultRecord
	commandOK := false
	timedOut := sendErr != nil
	if !timedOut {
		m.transition(fault.NodeID, StateDispatched, StateAcked)
		resultRecord = &reporting.CommandResultRecord{
			CmdID:         result.String("cmd_id"),
			Status:        result.String("status"),
			DurationMS:    result.Float("duration_ms"),
			SandboxPassed: result.Bool("sandbox_passed"),
		}
		commandOK = result.String("status") == "success"
	} else {
		m.transition(fault.NodeID, StateDispatched, StateTimedOut)
	}

	sandboxPassed := !timedOut && m.sandboxVerify(ctx, plan)

	attempt := reporting.HealingAttempt{
		Fault:     fault,
		Plan:      planRecord(plan),
		Result:    resultRecord,
		StartedAt: start,
		Duration:  time.Since(start),
	}

	if commandOK && sandboxPassed {
		attempt.Outcome = "success"
		m.transition(fault.NodeID, StateAcked, StateCompleted)
		m.ai.RegisterSuccess(aiCtx, plan)
		m.appendHistory(attempt)
		if m.reporter != nil {
			m.reporter.ReportHealingSuccess(attempt)
		}
		m.reportOutcome(attempt)
		return
	}

	attempt.Outcome = "failed"
	if timedOut {
		m.transition(fault.NodeID, StateTimedOut, StateFallbackIssued)
	} else {
		m.transition(fault.NodeID, StateAcked, StateFailed)
	}
	m.appendHistory(attempt)

	fallback := wire.CmdReconfigureMessage("", fault.NodeID, "isolate", "", nil)
	_, _ = m.sender.Send(ctx, fallback, false, time.Second)
	if !timedOut {
		m.transition(fault.NodeID, StateFailed, StateFallbackIssued)
	}
	if m.reporter != nil {
		m.reporter.ReportHealingFailed(attempt, "isolate")
	}
	m.reportOutcome(attempt)
}

// sandboxVerify runs a bounded wait standing in for a functional
// verification of the reconfiguration. It always reports a pass: real
// verification logic is a policy an embedder may add without changing
// this contract.
func (m *Manager) sandboxVerify(ctx context.Context, plan aipath.Plan) bool {
	wait := m.cfg.SandboxTimeout
	if plan.Confidence > 0.9 && wait > 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	interruptibleSleep(ctx, wait)
	return true
}

// interruptibleSleep waits for d or until ctx is cancelled, whichever
// comes first.
func interruptibleSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func planRecord(p aipath.Plan) reporting.PlanRecord {
	return reporting.PlanRecord{
		Action:     p.Action,
		SpareID:    p.SpareID,
		Playbook:   p.Playbook,
		Confidence: p.Confidence,
		Source:     p.Source,
	}
}

func evidenceToMetrics(evidence map[string]interface{}) map[string]float64 {
	if evidence == nil {
		return nil
	}
	out := make(map[string]float64, len(evidence))
	for k, v := range evidence {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
