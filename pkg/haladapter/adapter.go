// Package haladapter implements the host side of the HAL line-JSON
// transport: a reconnecting TCP client with a single reader feeding a
// bounded inbound queue, and a mutex-serialized writer.
package haladapter

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// ErrNotConnected is returned by Send when there is no live connection.
var ErrNotConnected = errors.New("haladapter: not connected")

// Config holds the adapter's connection and queueing tunables.
type Config struct {
	Host             string
	Port             int
	ReconnectInterval time.Duration
	QueueCapacity     int
}

// Adapter maintains the host's connection to the simulator. Exactly one
// reader goroutine is alive at any time; it is the only caller of
// ReadMessage on the current connection, and it fills a bounded queue
// that drops the oldest entry on overflow, trading staleness for loss.
type Adapter struct {
	cfg Config
	log *reporting.Logger

	queue chan wire.Message

	mu     sync.Mutex
	conn   net.Conn
	writer *wire.Writer

	reconnectMu   sync.Mutex
	connectedOnce bool
	onReconnect   func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an adapter. Call Start to begin connecting.
func New(cfg Config, log *reporting.Logger) *Adapter {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	return &Adapter{
		cfg:    cfg,
		log:    log,
		queue:  make(chan wire.Message, cfg.QueueCapacity),
		stopCh: make(chan struct{}),
	}
}

// SetReconnectHook registers fn to be called every time the adapter
// establishes a connection after an earlier one was lost. It is not
// called for the initial connection.
func (a *Adapter) SetReconnectHook(fn func()) {
	a.reconnectMu.Lock()
	defer a.reconnectMu.Unlock()
	a.onReconnect = fn
}

// QueueDepth returns the number of messages currently buffered in the
// inbound queue, for callers that want to sample it periodically.
func (a *Adapter) QueueDepth() int {
	return len(a.queue)
}

// Start launches the connect-and-reconnect supervisor loop.
func (a *Adapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.connectLoop(ctx)
}

// Stop cancels the supervisor and reader, closes the connection, and
// drains the queue.
func (a *Adapter) Stop() {
	close(a.stopCh)
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()

	for {
		select {
		case <-a.queue:
		default:
			return
		}
	}
}

func (a *Adapter) connectLoop(ctx context.Context) {
	defer a.wg.Done()
	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			if a.log != nil {
				a.log.Warn("connect failed", "addr", addr, "error", err)
			}
			if !a.sleepUnlessStopped(a.cfg.ReconnectInterval) {
				return
			}
			continue
		}

		a.mu.Lock()
		a.conn = conn
		a.writer = wire.NewWriter(conn)
		a.mu.Unlock()

		if a.log != nil {
			a.log.Info("connected", "addr", addr)
		}

		a.reconnectMu.Lock()
		wasReconnect := a.connectedOnce
		a.connectedOnce = true
		hook := a.onReconnect
		a.reconnectMu.Unlock()
		if wasReconnect && hook != nil {
			hook()
		}

		a.readUntilDisconnect(conn)

		a.mu.Lock()
		a.conn = nil
		a.writer = nil
		a.mu.Unlock()

		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !a.sleepUnlessStopped(a.cfg.ReconnectInterval) {
			return
		}
	}
}

func (a *Adapter) sleepUnlessStopped(d time.Duration) bool {
	select {
	case <-a.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// readUntilDisconnect is the adapter's single reader; it runs until the
// connection is closed or a non-recoverable read error occurs.
func (a *Adapter) readUntilDisconnect(conn net.Conn) {
	r := wire.NewReader(conn)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			var malformed *wire.ErrMalformed
			if errors.As(err, &malformed) {
				if a.log != nil {
					a.log.Warn("dropped malformed line", "error", err)
				}
				continue
			}
			return
		}
		a.enqueue(msg)
	}
}

func (a *Adapter) enqueue(msg wire.Message) {
	select {
	case a.queue <- msg:
	default:
		// Queue full: drop the oldest message to make room, preferring
		// fresh telemetry over stale.
		select {
		case <-a.queue:
		default:
		}
		select {
		case a.queue <- msg:
		default:
		}
	}
}

// Read blocks until a message arrives, the context is cancelled, or
// timeout elapses (zero means wait indefinitely).
func (a *Adapter) Read(ctx context.Context, timeout time.Duration) (wire.Message, error) {
	if timeout <= 0 {
		select {
		case msg := <-a.queue:
			return msg, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-a.queue:
		return msg, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes a message, serialized through a single writer lock.
func (a *Adapter) Send(msg wire.Message) error {
	a.mu.Lock()
	w := a.writer
	a.mu.Unlock()

	if w == nil {
		return ErrNotConnected
	}
	return w.WriteMessage(msg)
}
