// Package bus carries stream events between the pipeline and the broadcast
// hub. The in-memory bus serves a single process; the Postgres bus fans
// events out to every server process via LISTEN/NOTIFY.
package bus

import (
	"context"

	"github.com/ashen-peak/logtide/internal/models"
)

// Bus publishes pipeline events and delivers them to the local consumer.
// Each process attaches exactly one consumer (the broadcast hub) to Events.
type Bus interface {
	// Publish emits an event. It must not block indefinitely: droppable
	// events may be discarded under pressure, and the context bounds the
	// rest.
	Publish(ctx context.Context, event *models.StreamEvent) error

	// Events is the delivery channel. It is never closed; consumers
	// stop through their own context.
	Events() <-chan *models.StreamEvent

	Close() error
}
