package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ashen-peak/logtide/internal/models"
)

const defaultBuffer = 1024

// MemBus is the single-process bus: published events loop straight back to
// the local Events channel.
type MemBus struct {
	events  chan *models.StreamEvent
	dropped atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemBus creates an in-memory bus. A non-positive buffer uses the
// default.
func NewMemBus(buffer int) *MemBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemBus{
		events: make(chan *models.StreamEvent, buffer),
		closed: make(chan struct{}),
	}
}

// Publish delivers the event to the local channel. When the buffer is full,
// droppable events are discarded; others wait for space or context
// cancellation.
func (b *MemBus) Publish(ctx context.Context, event *models.StreamEvent) error {
	select {
	case <-b.closed:
		return nil
	default:
	}

	select {
	case b.events <- event:
		return nil
	default:
	}

	if event.Droppable() {
		b.dropped.Add(1)
		return nil
	}

	select {
	case b.events <- event:
		return nil
	case <-b.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the delivery channel.
func (b *MemBus) Events() <-chan *models.StreamEvent {
	return b.events
}

// Dropped returns the number of events discarded under pressure.
func (b *MemBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down. Publishes after Close are discarded; the
// Events channel stays open so a concurrent Publish can never panic, and
// consumers stop through their own context.
func (b *MemBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	return nil
}
