package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashen-peak/logtide/internal/models"
)

const (
	// notifyChannel is the LISTEN/NOTIFY channel shared by all server
	// processes.
	notifyChannel = "logtide_events"

	// notifyLimit stays under Postgres's 8000-byte NOTIFY payload cap.
	notifyLimit = 7800
)

// PGBus fans events out across processes via pg_notify. Every process runs
// a listening connection that re-delivers notifications, including its own,
// into the local Events channel.
type PGBus struct {
	pool    *pgxpool.Pool
	logger  *log.Logger
	events  chan *models.StreamEvent
	dropped atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPGBus creates a Postgres bus over the given pool. Call Start to begin
// listening.
func NewPGBus(pool *pgxpool.Pool, logger *log.Logger) *PGBus {
	if logger == nil {
		logger = log.Default()
	}
	return &PGBus{
		pool:   pool,
		logger: logger,
		events: make(chan *models.StreamEvent, defaultBuffer),
		closed: make(chan struct{}),
	}
}

// Start runs the listener until the context is cancelled or Close is
// called. The listener reconnects with backoff after connection loss.
func (b *PGBus) Start(ctx context.Context) {
	go b.listen(ctx)
}

func (b *PGBus) listen(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		default:
		}

		if err := b.listenOnce(ctx); err != nil && ctx.Err() == nil {
			b.logger.Printf("bus: listener lost connection, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

// listenOnce holds one connection, LISTENs, and delivers notifications
// until the connection fails or the context ends.
func (b *PGBus) listenOnce(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		event := &models.StreamEvent{}
		if err := json.Unmarshal([]byte(notification.Payload), event); err != nil {
			b.logger.Printf("bus: dropping malformed notification: %v", err)
			continue
		}
		b.deliver(ctx, event)
	}
}

func (b *PGBus) deliver(ctx context.Context, event *models.StreamEvent) {
	select {
	case b.events <- event:
		return
	default:
	}
	if event.Droppable() {
		b.dropped.Add(1)
		return
	}
	select {
	case b.events <- event:
	case <-ctx.Done():
	case <-b.closed:
	}
}

// Publish emits the event to every listening process via pg_notify.
// Envelopes over the NOTIFY size limit have their payload body replaced
// with a truncation marker; the envelope fields always survive.
func (b *PGBus) Publish(ctx context.Context, event *models.StreamEvent) error {
	select {
	case <-b.closed:
		return nil
	default:
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(body) > notifyLimit {
		trimmed := *event
		trimmed.Payload = json.RawMessage(`{"truncated":true}`)
		if body, err = json.Marshal(&trimmed); err != nil {
			return fmt.Errorf("marshal trimmed event: %w", err)
		}
	}

	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(body)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Events returns the local delivery channel.
func (b *PGBus) Events() <-chan *models.StreamEvent {
	return b.events
}

// Dropped returns the number of events discarded under pressure.
func (b *PGBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the listener. The shared pool is owned by the store and is
// not closed here.
func (b *PGBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	return nil
}
