// Package halserver implements the simulator side of the HAL line-JSON
// transport: it accepts host connections, broadcasts periodic status
// snapshots, and dispatches inbound fault injections, status requests,
// and reconfiguration commands.
package halserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jihwankim/tilefleet/pkg/board"
	"github.com/jihwankim/tilefleet/pkg/prcontroller"
	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/tile"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// client wraps one connected host's writer with its own lock: the
// heartbeat broadcaster and that client's command handler both write
// to the same socket and must not interleave partial lines.
type client struct {
	conn   net.Conn
	writer *wire.Writer
	mu     sync.Mutex
}

func (c *client) write(m wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.WriteMessage(m)
}

// Server is the simulator's HAL server: one Board, one PR controller,
// and a set of connected clients fed from a single heartbeat ticker.
type Server struct {
	board      *board.Board
	pr         *prcontroller.Controller
	hbInterval time.Duration
	log        *reporting.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	listener net.Listener

	snapshotMu sync.Mutex
	onSnapshot func(board.Snapshot)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a HAL server bound to a board and PR controller.
func New(b *board.Board, pr *prcontroller.Controller, hbInterval time.Duration, log *reporting.Logger) *Server {
	return &Server{
		board:      b,
		pr:         pr,
		hbInterval: hbInterval,
		log:        log,
		clients:    make(map[*client]struct{}),
		stopCh:     make(chan struct{}),
	}
}

// SetSnapshotHook registers fn to be called with the board snapshot on
// every heartbeat tick, before it is broadcast to clients. Used to feed
// an external metrics sink without coupling the server to one.
func (s *Server) SetSnapshotHook(fn func(board.Snapshot)) {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()
	s.onSnapshot = fn
}

// Start binds addr and begins accepting connections and broadcasting
// heartbeats. It returns once the listener is bound; the accept and
// heartbeat loops run in background goroutines until Stop is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(2)
	go s.heartbeatLoop(ctx)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every client connection and waits for
// the background loops to exit.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.board.TickAll()
			s.broadcastSnapshot()
		}
	}
}

func (s *Server) broadcastSnapshot() {
	snap := s.board.GetSnapshot()

	s.snapshotMu.Lock()
	hook := s.onSnapshot
	s.snapshotMu.Unlock()
	if hook != nil {
		hook(snap)
	}

	nodes := make(map[string]interface{}, len(snap.Nodes))
	for id, st := range snap.Nodes {
		nodes[id] = nodeBody(st)
	}
	msg := wire.StatusSnapshotMessage(float64(snap.Timestamp.UnixNano())/1e9, nodes)

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		// Individual write failures are ignored here; the offending
		// client is reaped on its next read failure.
		_ = c.write(msg)
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				if s.log != nil {
					s.log.Warn("accept failed", "error", err)
				}
				continue
			}
		}

		c := &client{conn: conn, writer: wire.NewWriter(conn)}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleClient(ctx, c)
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.conn.Close()
}

func (s *Server) handleClient(ctx context.Context, c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	r := wire.NewReader(c.conn)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			var malformed *wire.ErrMalformed
			if errors.As(err, &malformed) {
				if s.log != nil {
					s.log.Warn("dropped malformed line", "error", err)
				}
				continue
			}
			if !errors.Is(err, io.EOF) && s.log != nil {
				s.log.Debug("client read ended", "error", err)
			}
			return
		}

		s.dispatch(ctx, c, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, msg wire.Message) {
	switch msg.Type() {
	case wire.MsgFaultEvent:
		s.injectFromMessage(msg)

	case wire.MsgStatusRequest:
		snap := s.board.GetSnapshot()
		nodes := make(map[string]interface{}, len(snap.Nodes))
		for id, st := range snap.Nodes {
			nodes[id] = nodeBody(st)
		}
		_ = c.write(wire.StatusSnapshotMessage(float64(snap.Timestamp.UnixNano())/1e9, nodes))

	case wire.MsgCmdReconfigure:
		cmdID := msg.String("cmd_id")
		_ = c.write(wire.CmdAckMessage(cmdID))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			result := s.pr.HandleReconfigure(msg)
			_ = c.write(result)
		}()

	default:
		// Unknown msg_type values are ignored per the wire protocol.
	}
}

// severityDuration maps a fault's declared severity to the default
// injection duration: unbounded for critical, 60s for major, 10s for
// anything else (including an absent or unrecognized severity).
func severityDuration(severity string) *time.Duration {
	switch severity {
	case "critical":
		return nil
	case "major":
		d := 60 * time.Second
		return &d
	default:
		d := 10 * time.Second
		return &d
	}
}

func (s *Server) injectFromMessage(msg wire.Message) {
	nodeID := msg.String("node_id")
	faultType := msg.String("fault_type")
	duration := severityDuration(msg.String("severity"))

	var params map[string]float64
	if evidence := msg.Map("evidence"); evidence != nil {
		params = make(map[string]float64, len(evidence))
		for k, v := range evidence {
			if f, ok := v.(float64); ok {
				params[k] = f
			}
		}
	}

	if err := s.board.InjectFault(nodeID, faultType, duration, params); err != nil && s.log != nil {
		s.log.Warn("fault injection failed", "node_id", nodeID, "error", err)
	}
}

// nodeBody converts a tile's snapshot into the heartbeat-shaped body
// used both for individual heartbeat messages and as entries in a
// status_snapshot's nodes map.
func nodeBody(st tile.State) map[string]interface{} {
	return map[string]interface{}{
		"node_id":   st.TileID,
		"timestamp": float64(st.LastHeartbeat.UnixNano()) / 1e9,
		"status":    string(st.Status),
		"metrics": map[string]interface{}{
			"temp_c":          st.Metrics.TempC,
			"voltage_v":       st.Metrics.VoltageV,
			"load":            st.Metrics.Load,
			"error_count":     st.Metrics.ErrorCount,
			"last_output_crc": st.Metrics.LastOutputCRC,
		},
	}
}
