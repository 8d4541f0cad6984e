package healing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jihwankim/tilefleet/pkg/aipath"
	"github.com/jihwankim/tilefleet/pkg/cmdsender"
	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// fakeTransport records sent commands and lets a test script replies
// back through the bound Sender via Feed.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []wire.Message
	onSend func(wire.Message)
}

func (f *fakeTransport) Send(msg wire.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(msg)
	}
	return nil
}

func newSenderWithAutoResult(status string, sandboxPassed bool) (*cmdsender.Sender, *fakeTransport) {
	tr := &fakeTransport{}
	sender := cmdsender.New(tr)
	tr.onSend = func(msg wire.Message) {
		if msg.Type() != wire.MsgCmdReconfigure {
			return
		}
		go sender.Feed(wire.CmdResultMessage(msg.String("cmd_id"), status, 5, sandboxPassed))
	}
	return sender, tr
}

func TestRunHealSucceedsAndRegistersPlanInCache(t *testing.T) {
	sender, tr := newSenderWithAutoResult("success", true)
	ai := aipath.New([]string{"tile_9"}, "")
	mgr := New(ai, sender, nil, DefaultConfig())

	fault := reporting.FaultRecord{FaultID: "f1", NodeID: "tile_1", FaultType: "missing_heartbeat"}
	mgr.HandleFault(context.Background(), fault)
	mgr.Wait()

	history := mgr.History()
	if len(history) != 1 {
		t.Fatalf("expected one attempt recorded, got %d", len(history))
	}
	if history[0].Outcome != "success" {
		t.Fatalf("expected success outcome, got %+v", history[0])
	}

	found := false
	for _, m := range tr.sent {
		if m.Type() == wire.MsgCmdReconfigure {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cmd_reconfigure to have been sent")
	}

	again := ai.Recommend(aipath.Context{NodeID: "tile_1", FaultType: "missing_heartbeat"})
	if again.Source != "cache" {
		t.Fatalf("expected successful plan to be cached, got source %s", again.Source)
	}
}

func TestRunHealFailureIssuesIsolateFallback(t *testing.T) {
	sender, tr := newSenderWithAutoResult("failed", false)
	ai := aipath.New([]string{"tile_9"}, "")
	mgr := New(ai, sender, nil, DefaultConfig())

	fault := reporting.FaultRecord{FaultID: "f2", NodeID: "tile_2", FaultType: "overheat"}
	mgr.HandleFault(context.Background(), fault)
	mgr.Wait()

	history := mgr.History()
	if len(history) != 1 || history[0].Outcome != "failed" {
		t.Fatalf("expected a recorded failed attempt, got %+v", history)
	}

	var isolateSeen bool
	for _, m := range tr.sent {
		if m.Type() == wire.MsgCmdReconfigure && m.String("action") == "isolate" {
			isolateSeen = true
		}
	}
	if !isolateSeen {
		t.Fatalf("expected an isolate fallback command to be sent")
	}
}

func TestHistoryIsBoundedByLimit(t *testing.T) {
	sender, _ := newSenderWithAutoResult("success", true)
	ai := aipath.New([]string{"tile_9"}, "")
	cfg := DefaultConfig()
	cfg.HistoryLimit = 2
	mgr := New(ai, sender, nil, cfg)

	for i := 0; i < 5; i++ {
		mgr.HandleFault(context.Background(), reporting.FaultRecord{FaultID: "f", NodeID: "tile_1", FaultType: "overheat"})
		mgr.Wait()
	}

	if got := len(mgr.History()); got != 2 {
		t.Fatalf("expected history capped at 2, got %d", got)
	}
}

func TestRunHealTimesOutWithoutResult(t *testing.T) {
	tr := &fakeTransport{}
	sender := cmdsender.New(tr)
	ai := aipath.New(nil, "")
	cfg := DefaultConfig()
	cfg.CommandTimeout = 20 * time.Millisecond
	mgr := New(ai, sender, nil, cfg)

	fault := reporting.FaultRecord{FaultID: "f3", NodeID: "tile_5", FaultType: "stuck_output"}
	mgr.HandleFault(context.Background(), fault)
	mgr.Wait()

	history := mgr.History()
	if len(history) != 1 || history[0].Outcome != "failed" {
		t.Fatalf("expected a failed attempt on timeout, got %+v", history)
	}
	if history[0].Result != nil {
		t.Fatalf("expected no result record when the command timed out")
	}
}

// fakeReporter records every transition and terminal call it receives,
// so a test can assert the exact sequence the manager emits.
type fakeReporter struct {
	mu          sync.Mutex
	transitions []string
	failed      bool
}

func (f *fakeReporter) ReportTransition(nodeID, from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from+"->"+to)
}

func (f *fakeReporter) ReportHealingStarted(nodeID string, plan reporting.PlanRecord) {}

func (f *fakeReporter) ReportHealingSuccess(attempt reporting.HealingAttempt) {}

func (f *fakeReporter) ReportHealingFailed(attempt reporting.HealingAttempt, fallback string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
}

func TestRunHealTimeoutTransitionsDirectlyToFallback(t *testing.T) {
	tr := &fakeTransport{}
	sender := cmdsender.New(tr)
	ai := aipath.New(nil, "")
	cfg := DefaultConfig()
	cfg.CommandTimeout = 20 * time.Millisecond
	reporter := &fakeReporter{}
	mgr := New(ai, sender, reporter, cfg)

	fault := reporting.FaultRecord{FaultID: "f4", NodeID: "tile_7", FaultType: "stuck_output"}
	mgr.HandleFault(context.Background(), fault)
	mgr.Wait()

	want := []string{
		"UNKNOWN->RECEIVED",
		"RECEIVED->PLANNED",
		"PLANNED->DISPATCHED",
		"DISPATCHED->TIMED_OUT",
		"TIMED_OUT->FALLBACK_ISSUED",
	}
	reporter.mu.Lock()
	got := append([]string(nil), reporter.transitions...)
	reporter.mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, got)
		}
	}
	for _, tr := range got {
		if tr == "DISPATCHED->ACKED" || tr == "ACKED->FAILED" {
			t.Fatalf("timeout path must not pass through ACKED/FAILED, got %v", got)
		}
	}
}

func TestSetOutcomeHookReceivesEveryAttempt(t *testing.T) {
	sender, _ := newSenderWithAutoResult("success", true)
	ai := aipath.New([]string{"tile_9"}, "")
	mgr := New(ai, sender, nil, DefaultConfig())

	var mu sync.Mutex
	var outcomes []string
	mgr.SetOutcomeHook(func(outcome string, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, outcome)
	})

	fault := reporting.FaultRecord{FaultID: "f6", NodeID: "tile_3", FaultType: "overheat"}
	mgr.HandleFault(context.Background(), fault)
	mgr.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 || outcomes[0] != "success" {
		t.Fatalf("expected outcome hook to report a single success, got %v", outcomes)
	}
}

func TestRunHealFailureAfterAckTransitionsThroughFailed(t *testing.T) {
	sender, _ := newSenderWithAutoResult("failed", false)
	ai := aipath.New([]string{"tile_9"}, "")
	reporter := &fakeReporter{}
	mgr := New(ai, sender, reporter, DefaultConfig())

	fault := reporting.FaultRecord{FaultID: "f5", NodeID: "tile_8", FaultType: "overheat"}
	mgr.HandleFault(context.Background(), fault)
	mgr.Wait()

	reporter.mu.Lock()
	got := append([]string(nil), reporter.transitions...)
	reporter.mu.Unlock()

	want := []string{
		"UNKNOWN->RECEIVED",
		"RECEIVED->PLANNED",
		"PLANNED->DISPATCHED",
		"DISPATCHED->ACKED",
		"ACKED->FAILED",
		"FAILED->FALLBACK_ISSUED",
	}
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, got)
		}
	}
}
