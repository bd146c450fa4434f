package broadcast

import (
	"context"
	"log"
	"time"

	"github.com/ashen-peak/logtide/internal/bus"
	"github.com/ashen-peak/logtide/internal/models"
)

// Hub drains the bus into the registry and emits periodic heartbeat and
// stats_update events to keep idle streams alive.
type Hub struct {
	bus      bus.Bus
	registry *Registry
	logger   *log.Logger

	heartbeatInterval time.Duration
	statsInterval     time.Duration
}

// HubOptions configures a Hub.
type HubOptions struct {
	// HeartbeatInterval paces keepalive events. Default 15s.
	HeartbeatInterval time.Duration
	// StatsInterval paces stats_update events. Default 30s.
	StatsInterval time.Duration
	Logger        *log.Logger
}

// NewHub creates a hub over the given bus and registry.
func NewHub(b bus.Bus, registry *Registry, opts HubOptions) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Hub{
		bus:               b,
		registry:          registry,
		logger:            opts.Logger,
		heartbeatInterval: opts.HeartbeatInterval,
		statsInterval:     opts.StatsInterval,
	}
}

// Registry returns the hub's subscriber registry.
func (h *Hub) Registry() *Registry { return h.registry }

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// Run delivers events until the context is cancelled, then releases every
// subscriber.
func (h *Hub) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()
	stats := time.NewTicker(h.statsInterval)
	defer stats.Stop()

	defer h.registry.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-h.bus.Events():
			if event == nil {
				continue
			}
			h.registry.Broadcast(event)

		case now := <-heartbeat.C:
			h.registry.Broadcast(models.NewStreamEvent(
				models.EventHeartbeat, "", heartbeatPayload{Timestamp: now.UTC()}))

		case <-stats.C:
			h.registry.Broadcast(models.NewStreamEvent(
				models.EventStatsUpdate, "", h.registry.Stats()))
		}
	}
}
