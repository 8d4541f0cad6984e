// Package cmdsender correlates outbound cmd_reconfigure commands with
// their inbound cmd_result replies by cmd_id. cmd_ack replies are
// ignored; no caller can wait for an ack alone.
package cmdsender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// Transport is the minimal sending capability cmdsender needs from the
// HAL adapter.
type Transport interface {
	Send(msg wire.Message) error
}

// Sender assigns cmd_ids, writes commands, and completes the caller's
// wait when the matching reply is fed back in via Feed.
type Sender struct {
	transport Transport

	mu      sync.Mutex
	pending map[string]chan wire.Message
}

// New creates a command sender bound to a transport.
func New(transport Transport) *Sender {
	return &Sender{
		transport: transport,
		pending:   make(map[string]chan wire.Message),
	}
}

// NewCmdID generates a unique command id.
func NewCmdID() string {
	return "cmd_" + uuid.NewString()
}

// Send writes cmd (assigning a cmd_id if absent) and, if expectResult
// is true, waits up to timeout for the correlated cmd_result. Passing
// expectResult = false fires the command without waiting.
func (s *Sender) Send(ctx context.Context, cmd wire.Message, expectResult bool, timeout time.Duration) (wire.Message, error) {
	cmdID, _ := cmd["cmd_id"].(string)
	if cmdID == "" {
		cmdID = NewCmdID()
		cmd["cmd_id"] = cmdID
	}

	if !expectResult {
		return nil, s.transport.Send(cmd)
	}

	ch := make(chan wire.Message, 1)
	s.mu.Lock()
	s.pending[cmdID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, cmdID)
		s.mu.Unlock()
	}()

	if err := s.transport.Send(cmd); err != nil {
		return nil, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case result := <-ch:
		return result, nil
	case <-t.C:
		return nil, fmt.Errorf("cmdsender: timed out waiting for result of %s", cmdID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Feed delivers an inbound message to the correlator. It completes the
// matching waiter when the message is a cmd_result for a pending
// cmd_id; cmd_ack is intermediate and never completes a waiter that
// expects a result. A late arrival for an already-abandoned cmd_id is
// discarded.
func (s *Sender) Feed(msg wire.Message) {
	if msg.Type() != wire.MsgCmdResult {
		return
	}
	cmdID := msg.String("cmd_id")
	if cmdID == "" {
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[cmdID]
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- msg:
	default:
	}
}
