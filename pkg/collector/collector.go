// Package collector forwards every well-formed message from the HAL
// adapter's inbound queue to a detector queue, without filtering by
// msg_type: the fault detector is responsible for deciding what
// matters.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/wire"
)

// Source is the minimal read capability the collector needs from the
// HAL adapter.
type Source interface {
	Read(ctx context.Context, timeout time.Duration) (wire.Message, error)
}

// Collector runs one goroutine pulling from Source and pushing to an
// internal bounded channel. The same drop-oldest backpressure policy
// as the adapter's own queue applies here.
type Collector struct {
	source Source
	log    *reporting.Logger

	out    chan wire.Message
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a collector with the given output queue capacity.
func New(source Source, queueCapacity int, log *reporting.Logger) *Collector {
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	return &Collector{
		source: source,
		log:    log,
		out:    make(chan wire.Message, queueCapacity),
		stopCh: make(chan struct{}),
	}
}

// Out returns the channel telemetry consumers (the fault detector)
// should read from.
func (c *Collector) Out() <-chan wire.Message {
	return c.out
}

// Start begins forwarding in a background goroutine.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the forwarding goroutine to exit and waits for it.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.source.Read(ctx, 500*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.log != nil {
				c.log.Debug("telemetry read error, continuing", "error", err)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if msg == nil {
			continue // read timeout, no message available
		}
		c.enqueue(msg)
	}
}

func (c *Collector) enqueue(msg wire.Message) {
	select {
	case c.out <- msg:
	default:
		select {
		case <-c.out:
		default:
		}
		select {
		case c.out <- msg:
		default:
		}
	}
}
