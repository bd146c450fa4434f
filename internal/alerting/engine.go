// Package alerting turns flagged log entries into deduplicated alerts.
package alerting

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/storage"
)

// DefaultWindow is the dedup window used when none is configured.
const DefaultWindow = 10 * time.Minute

// Engine raises alerts for flagged entries. Alerts sharing a dedup key
// within the window collapse to a single persisted alert: an in-process
// cache short-circuits repeats, and the store's unique dedup_key index
// catches races across processes.
type Engine struct {
	store  storage.AlertRepository
	cache  *DedupCache
	window time.Duration
	logger *log.Logger
	now    func() time.Time

	stats EngineStats
}

// EngineStats tracks alert outcomes using atomics for lock-free reads.
type EngineStats struct {
	Raised     atomic.Int64
	Suppressed atomic.Int64
}

// Options configures the alert engine.
type Options struct {
	// Window is the dedup window. Default 10m.
	Window time.Duration
	Logger *log.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewEngine creates an alert engine over the given store.
func NewEngine(store storage.AlertRepository, opts Options) *Engine {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:  store,
		cache:  NewDedupCache(opts.Window),
		window: opts.Window,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Window returns the configured dedup window.
func (e *Engine) Window() time.Duration { return e.window }

// Stats returns the engine counters.
func (e *Engine) Stats() (raised, suppressed int64) {
	return e.stats.Raised.Load(), e.stats.Suppressed.Load()
}

// Process raises an alert for a flagged entry. It returns the persisted
// alert and true when a new alert was created, or nil and false when the
// entry is unflagged or the alert was suppressed by the dedup window.
func (e *Engine) Process(ctx context.Context, entry *models.LogEntry, severity models.Severity, summary string) (*models.Alert, bool, error) {
	if !entry.Flagged() {
		return nil, false, nil
	}

	alertType := models.AlertTypeAnomaly
	if entry.IsError {
		alertType = models.AlertTypeErrorSpike
	}

	now := e.now().UTC()
	key := models.DedupKey(entry.ConnectionID, alertType, now, e.window)

	if e.cache.Suppressed(key, now) {
		e.stats.Suppressed.Add(1)
		return nil, false, nil
	}

	alert := &models.Alert{
		ConnectionID: entry.ConnectionID,
		ProjectID:    entry.ProjectID,
		Type:         alertType,
		Severity:     severity,
		Title:        alertTitle(alertType, entry),
		Description:  summary,
		DedupKey:     key,
		LogEntryID:   entry.ID,
		CreatedAt:    now,
	}

	created, err := e.store.Create(ctx, alert)
	if err != nil {
		return nil, false, fmt.Errorf("persist alert: %w", err)
	}

	// Mark even when another process won the insert race, so this
	// process stops retrying the same key for the rest of the window.
	e.cache.Mark(key, now)

	if !created {
		e.stats.Suppressed.Add(1)
		return nil, false, nil
	}

	e.stats.Raised.Add(1)
	e.logger.Printf("alerting: raised %s alert %s for connection %s", alertType, alert.ID, entry.ConnectionID)
	return alert, true, nil
}

func alertTitle(alertType models.AlertType, entry *models.LogEntry) string {
	source := entry.Source
	if source == "" {
		source = "unknown source"
	}
	label := "Anomaly"
	if alertType == models.AlertTypeErrorSpike {
		label = "Error"
	}
	return fmt.Sprintf("%s from %s: %s", label, source, truncate(entry.Message, 120))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
