// Package notifier provides notification dispatching for alerts.
package notifier

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ashen-peak/logtide/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "webhook").
	Name() string
	// Send sends an alert notification.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a notification is dropped due to rate
// limiting.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher fans raised alerts out to every registered channel.
// Delivery is best-effort: channel failures are logged, never retried
// into the pipeline.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
	logger      *log.Logger
}

// NewDispatcher creates a dispatcher with the given rate limit
// configuration.
func NewDispatcher(config RateLimitConfig, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
		logger:      logger,
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Dispatch sends the alert to all registered channels. Returns
// ErrRateLimited when the notification is dropped by the rate limiter,
// otherwise the first channel error encountered.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) error {
	d.mu.RLock()
	notifiers := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		notifiers = append(notifiers, n)
	}
	d.mu.RUnlock()

	if len(notifiers) == 0 {
		return nil
	}
	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		return ErrRateLimited
	}

	var firstErr error
	for _, n := range notifiers {
		if err := n.Send(ctx, alert); err != nil {
			d.logger.Printf("notifier: %s delivery failed for alert %s: %v", n.Name(), alert.ID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", n.Name(), err)
			}
		}
	}
	return firstErr
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.notifiers, name)
	}
	return firstErr
}
