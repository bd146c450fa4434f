// Package ingest polls configured log sources and persists new entries.
// Each connection runs on its own ticker; failures in one never delay the
// others.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashen-peak/logtide/internal/bus"
	"github.com/ashen-peak/logtide/internal/connector"
	"github.com/ashen-peak/logtide/internal/metrics"
	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/storage"
)

// errAuthPaused stops a poller after an authentication failure. The
// connection stays paused until reconfigured and re-enabled.
var errAuthPaused = errors.New("poller paused on auth failure")

// CredentialResolver turns a connection's credential reference into the
// secret it names.
type CredentialResolver func(ref string) (string, error)

// ConnectorFactory builds the provider connector for a connection. It
// exists so tests can substitute fakes.
type ConnectorFactory func(conn *models.Connection, credential string) (connector.Connector, error)

// Scheduler drives polling for every enabled connection.
type Scheduler struct {
	store       storage.Store
	bus         bus.Bus
	credentials CredentialResolver
	factory     ConnectorFactory
	logger      *log.Logger

	interval        time.Duration
	refreshInterval time.Duration
	maxAttempts     int
	backoff         func() *Backoff
	sem             *semaphore.Weighted

	mu      sync.Mutex
	pollers map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Interval is the poll period per connection. Default 30s.
	Interval time.Duration
	// RefreshInterval paces rescans of the enabled-connection list, so
	// connections created at runtime get pollers. Defaults to Interval.
	RefreshInterval time.Duration
	// MaxAttempts bounds fetch retries within one cycle. Default 3.
	MaxAttempts int
	// MaxConcurrent bounds simultaneous in-flight fetches. Default 8.
	MaxConcurrent int64
	// Factory overrides connector construction in tests.
	Factory ConnectorFactory
	// NewBackoff overrides retry pacing in tests.
	NewBackoff func() *Backoff
	Logger     *log.Logger
}

// NewScheduler creates a scheduler over the given store and bus.
func NewScheduler(store storage.Store, b bus.Bus, credentials CredentialResolver, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = opts.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Factory == nil {
		opts.Factory = func(conn *models.Connection, credential string) (connector.Connector, error) {
			return connector.New(conn, credential, connector.DefaultOptions())
		}
	}
	if opts.NewBackoff == nil {
		opts.NewBackoff = NewBackoff
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Scheduler{
		store:           store,
		bus:             b,
		credentials:     credentials,
		factory:         opts.Factory,
		logger:          opts.Logger,
		interval:        opts.Interval,
		refreshInterval: opts.RefreshInterval,
		maxAttempts:     opts.MaxAttempts,
		backoff:         opts.NewBackoff,
		sem:             semaphore.NewWeighted(opts.MaxConcurrent),
		pollers:         make(map[string]context.CancelFunc),
	}
}

// Run starts a poller for every enabled connection, rescans the list so
// connections created at runtime get picked up, and blocks until the
// context is cancelled. Shutdown waits for in-flight cycles to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.syncPollers(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := s.syncPollers(ctx); err != nil {
				s.logger.Printf("ingest: refresh connections: %v", err)
			}
		}
	}
}

// syncPollers reconciles running pollers against the enabled-connection
// list: new connections get a poller, disabled or deleted ones are
// stopped. Auth-failed connections stay paused until reconfigured.
func (s *Scheduler) syncPollers(ctx context.Context) error {
	connections, err := s.store.Connections().ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	enabled := make(map[string]bool, len(connections))
	for _, conn := range connections {
		if conn.Health == models.HealthAuthFailed {
			continue
		}
		enabled[conn.ID] = true
		s.StartPoller(ctx, conn.ID)
	}

	s.mu.Lock()
	for id, cancel := range s.pollers {
		if !enabled[id] {
			cancel()
		}
	}
	s.mu.Unlock()
	return nil
}

// StartPoller begins polling the connection on the scheduler interval.
// Starting an already-polled connection is a no-op.
func (s *Scheduler) StartPoller(ctx context.Context, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.pollers[connectionID]; running {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.pollers[connectionID] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.stopPoller(connectionID)
		s.pollLoop(pollCtx, connectionID)
	}()
}

func (s *Scheduler) stopPoller(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.pollers[connectionID]; ok {
		cancel()
		delete(s.pollers, connectionID)
	}
}

func (s *Scheduler) pollLoop(ctx context.Context, connectionID string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.PollOnce(ctx, connectionID); err != nil {
			if errors.Is(err, errAuthPaused) {
				s.logger.Printf("ingest: pausing poller for connection %s after auth failure", connectionID)
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Printf("ingest: poll cycle for connection %s: %v", connectionID, err)
		}
	}
}

// PollOnce runs a single poll cycle for the connection: fetch past the
// stored cursor with bounded retries, insert idempotently, advance the
// cursor, and publish the new entries.
func (s *Scheduler) PollOnce(ctx context.Context, connectionID string) error {
	conn, err := s.store.Connections().GetByID(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	if !conn.Enabled {
		return nil
	}

	credential, err := s.credentials(conn.CredentialRef)
	if err != nil {
		return fmt.Errorf("resolve credential %q: %w", conn.CredentialRef, err)
	}
	c, err := s.factory(conn, credential)
	if err != nil {
		return fmt.Errorf("build connector: %w", err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	result, err := s.fetchWithRetry(ctx, c, conn)
	if err != nil {
		return err
	}

	provider := string(conn.Provider)
	inserted, err := s.store.Logs().InsertBatch(ctx, result.Entries)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues(provider, "error").Inc()
		return fmt.Errorf("insert entries: %w", err)
	}
	metrics.EntriesIngestedTotal.WithLabelValues(provider).Add(float64(len(inserted)))

	cursor := result.Cursor
	if cursor == "" {
		cursor = conn.Cursor
	}
	if err := s.store.Connections().UpdateCursor(ctx, conn.ID, cursor, time.Now().UTC()); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	if conn.Health != models.HealthHealthy {
		s.setHealth(ctx, conn, models.HealthHealthy, "")
	}

	// Only entries the insert accepted are announced: a replayed fetch
	// whose rows were all deduplicated stays silent.
	for _, entry := range inserted {
		event := models.NewStreamEvent(models.EventLogEntry, entry.ProjectID, entry)
		if err := s.bus.Publish(ctx, event); err != nil {
			s.logger.Printf("ingest: publish entry %s: %v", entry.ID, err)
			break
		}
		metrics.BusEventsTotal.WithLabelValues(string(models.EventLogEntry)).Inc()
	}

	metrics.PollCyclesTotal.WithLabelValues(provider, "ok").Inc()
	return nil
}

// fetchWithRetry fetches past the connection's cursor, retrying transient
// failures with backoff. Auth failures pause the poller; transient
// exhaustion marks the connection degraded and defers to the next cycle.
func (s *Scheduler) fetchWithRetry(ctx context.Context, c connector.Connector, conn *models.Connection) (*connector.FetchResult, error) {
	provider := string(conn.Provider)
	backoff := s.backoff()

	for {
		start := time.Now()
		result, err := c.FetchLogs(ctx, conn.Cursor)
		metrics.FetchDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
		if err == nil {
			return result, nil
		}

		if errors.Is(err, connector.ErrAuth) {
			metrics.PollCyclesTotal.WithLabelValues(provider, "auth_failed").Inc()
			s.setHealth(ctx, conn, models.HealthAuthFailed, err.Error())
			return nil, fmt.Errorf("%w: %s", errAuthPaused, err)
		}

		if !connector.IsTransient(err) || backoff.Attempt() >= s.maxAttempts-1 {
			metrics.PollCyclesTotal.WithLabelValues(provider, "error").Inc()
			s.setHealth(ctx, conn, models.HealthDegraded, err.Error())
			return nil, fmt.Errorf("fetch from %s: %w", provider, err)
		}

		select {
		case <-time.After(backoff.Next()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// setHealth persists a health transition and announces it to viewers.
func (s *Scheduler) setHealth(ctx context.Context, conn *models.Connection, health models.ConnectionHealth, detail string) {
	if err := s.store.Connections().UpdateHealth(ctx, conn.ID, health); err != nil {
		s.logger.Printf("ingest: update health for connection %s: %v", conn.ID, err)
		return
	}
	conn.Health = health

	event := models.NewStreamEvent(models.EventConnectionStatus, conn.ProjectID, models.ConnectionStatusPayload{
		ConnectionID: conn.ID,
		Name:         conn.Name,
		Health:       health,
		Detail:       detail,
	})
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Printf("ingest: publish status for connection %s: %v", conn.ID, err)
		return
	}
	metrics.BusEventsTotal.WithLabelValues(string(models.EventConnectionStatus)).Inc()
}
