// Package events fans executed trades out to the websocket hub and to
// Kafka without ever blocking the matching engines.
package events

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/xtrntr/marketplace/internal/models"
	"go.uber.org/zap"
)

// DefaultBuffer is the dispatcher queue length used when none is given
const DefaultBuffer = 1024

// Sink receives trades from the dispatcher goroutine
type Sink interface {
	Name() string
	Publish(ctx context.Context, trade models.Trade) error
	Close() error
}

// Dispatcher queues trades and delivers them to every sink in order. It
// satisfies exchange.TradeListener.
type Dispatcher struct {
	logger *zap.Logger
	sinks  []Sink
	queue  chan models.Trade

	mu      sync.Mutex
	dropped int
	closed  bool

	done chan struct{}
}

// NewDispatcher creates a dispatcher with a queue of the given size
func NewDispatcher(logger *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		logger: logger,
		sinks:  sinks,
		queue:  make(chan models.Trade, buffer),
		done:   make(chan struct{}),
	}
}

// OnTrade enqueues the trade, dropping it when the queue is full
func (d *Dispatcher) OnTrade(trade models.Trade) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- trade:
	default:
		d.dropped++
		d.logger.Warn("trade event dropped, queue full",
			zap.Int64("trade_id", trade.ID),
			zap.Int("dropped", d.dropped))
	}
}

// Dropped returns how many trades were discarded because the queue was full
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run delivers queued trades until Close is called and the queue drains.
// Sink errors are logged and do not stop delivery.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for trade := range d.queue {
		for _, sink := range d.sinks {
			if err := sink.Publish(ctx, trade); err != nil {
				d.logger.Error("failed to publish trade",
					zap.String("sink", sink.Name()),
					zap.Int64("trade_id", trade.ID),
					zap.Error(err))
			}
		}
	}
}

// Close stops accepting trades, waits for Run to drain the queue and closes
// the sinks. Run must have been started.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done

	var firstErr error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close %s", sink.Name())
		}
	}
	return firstErr
}
