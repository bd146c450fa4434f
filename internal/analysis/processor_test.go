package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashen-peak/logtide/internal/alerting"
	"github.com/ashen-peak/logtide/internal/bus"
	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/storage"
)

func newTestProcessor(t *testing.T, store storage.Store, s Summarizer) (*Processor, *bus.MemBus) {
	t.Helper()
	b := bus.NewMemBus(32)
	t.Cleanup(func() { b.Close() })

	deep := NewDeepAnalyzer(s, DeepOptions{Timeout: time.Second})
	engine := alerting.NewEngine(store.Alerts(), alerting.Options{Window: 10 * time.Minute})
	return NewProcessor(store, deep, engine, b, ProcessorOptions{BatchSize: 10}), b
}

func insertPipelineEntries(t *testing.T, store storage.Store) {
	t.Helper()
	now := time.Now().UTC()
	entries := []*models.LogEntry{
		{ConnectionID: "c1", ProjectID: "p1", EventID: "1", Level: models.LevelInfo,
			Message: "request served", Source: "api", Timestamp: now, CreatedAt: now},
		{ConnectionID: "c1", ProjectID: "p1", EventID: "2", Level: models.LevelError,
			Message: "disk write failed", Source: "api", Timestamp: now, CreatedAt: now},
		{ConnectionID: "c2", ProjectID: "p1", EventID: "3", Level: models.LevelWarn,
			Message: "request timeout", Source: "worker", Timestamp: now, CreatedAt: now},
	}
	if _, err := store.Logs().InsertBatch(context.Background(), entries); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
}

func TestProcessorRunOnce(t *testing.T) {
	store := storage.NewMemStore()
	processor, b := newTestProcessor(t, store, summarizerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "model summary", nil
	}))
	insertPipelineEntries(t, store)

	n, err := processor.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Fatalf("claimed %d entries, want 3", n)
	}

	remaining, err := store.Logs().CountUnanalyzed(context.Background())
	if err != nil {
		t.Fatalf("CountUnanalyzed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("unanalyzed = %d, want 0", remaining)
	}

	// Two flagged entries on distinct connections raise two alerts.
	alerts, err := store.Alerts().ListByProject(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	for _, alert := range alerts {
		if alert.Severity != models.SeverityHigh {
			t.Errorf("alert %s severity = %q, want high", alert.ID, alert.Severity)
		}
		if alert.Description != "model summary" {
			t.Errorf("alert description = %q", alert.Description)
		}
	}

	received := 0
	for done := false; !done; {
		select {
		case event := <-b.Events():
			if event.Type != models.EventAlert {
				t.Errorf("unexpected event type %q", event.Type)
			}
			received++
		default:
			done = true
		}
	}
	if received != 2 {
		t.Errorf("received %d alert events, want 2", received)
	}
}

func TestProcessorEnrichmentFailureStillAnalyzes(t *testing.T) {
	store := storage.NewMemStore()
	processor, _ := newTestProcessor(t, store, summarizerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("enrichment down")
	}))
	insertPipelineEntries(t, store)

	if _, err := processor.RunOnce(context.Background(), 0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	remaining, err := store.Logs().CountUnanalyzed(context.Background())
	if err != nil {
		t.Fatalf("CountUnanalyzed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("unanalyzed = %d after enrichment outage, want 0", remaining)
	}

	// Alerts still carry the templated summary.
	alerts, err := store.Alerts().ListByProject(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	wantSummaries := map[string]bool{
		"ERROR event from api":   true,
		"WARN event from worker": true,
	}
	for _, alert := range alerts {
		if !wantSummaries[alert.Description] {
			t.Errorf("alert description = %q, want templated fallback", alert.Description)
		}
	}

	// A second cycle finds nothing: no retry loop on persistent outages.
	n, err := processor.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("second cycle claimed %d entries, want 0", n)
	}
}

func TestProcessorRunOnceHonorsLimit(t *testing.T) {
	store := storage.NewMemStore()
	processor, _ := newTestProcessor(t, store, nil)
	insertPipelineEntries(t, store)

	n, err := processor.RunOnce(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("claimed %d entries with limit 1, want 1", n)
	}

	remaining, err := store.Logs().CountUnanalyzed(context.Background())
	if err != nil {
		t.Fatalf("CountUnanalyzed: %v", err)
	}
	if remaining != 2 {
		t.Errorf("unanalyzed = %d, want 2", remaining)
	}
}

// ctxCheckedAlerts refuses writes on a cancelled context, matching how
// the SQL-backed repositories behave.
type ctxCheckedAlerts struct {
	inner storage.AlertRepository
}

func (a *ctxCheckedAlerts) Create(ctx context.Context, alert *models.Alert) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("persist alert: %w", err)
	}
	return a.inner.Create(ctx, alert)
}

func (a *ctxCheckedAlerts) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.Alert, error) {
	return a.inner.ListByProject(ctx, projectID, limit)
}

func TestProcessorShutdownMidBatchStillRaisesAlert(t *testing.T) {
	store := storage.NewMemStore()
	b := bus.NewMemBus(32)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shutdown lands while the post-claim tail runs: the summarizer
	// cancels the run context before failing over to the fallback.
	deep := NewDeepAnalyzer(summarizerFunc(func(ctx context.Context, prompt string) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	}), DeepOptions{Timeout: time.Second})
	engine := alerting.NewEngine(&ctxCheckedAlerts{inner: store.Alerts()},
		alerting.Options{Window: 10 * time.Minute})
	processor := NewProcessor(store, deep, engine, b, ProcessorOptions{BatchSize: 10})

	now := time.Now().UTC()
	if _, err := store.Logs().InsertBatch(context.Background(), []*models.LogEntry{
		{ConnectionID: "c1", ProjectID: "p1", EventID: "1", Level: models.LevelError,
			Message: "disk write failed", Source: "api", Timestamp: now, CreatedAt: now},
	}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	n, err := processor.RunOnce(ctx, 0)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("claimed %d entries, want 1", n)
	}

	// The claim already committed analyzed = true, so no later cycle
	// would retry: the alert must have landed despite the cancellation.
	alerts, err := store.Alerts().ListByProject(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts after mid-batch shutdown, want 1", len(alerts))
	}
	if alerts[0].Description != "ERROR event from api" {
		t.Errorf("alert description = %q, want templated fallback", alerts[0].Description)
	}
}

func TestProcessorDedupAcrossCycles(t *testing.T) {
	store := storage.NewMemStore()
	b := bus.NewMemBus(32)
	defer b.Close()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := alerting.NewEngine(store.Alerts(), alerting.Options{
		Window: 10 * time.Minute,
		Now:    func() time.Time { return clock },
	})
	processor := NewProcessor(store, NewDeepAnalyzer(nil, DeepOptions{}), engine, b,
		ProcessorOptions{BatchSize: 10})

	now := time.Now().UTC()
	insert := func(eventID string) {
		t.Helper()
		_, err := store.Logs().InsertBatch(context.Background(), []*models.LogEntry{
			{ConnectionID: "c1", ProjectID: "p1", EventID: eventID, Level: models.LevelError,
				Message: "disk write failed", Source: "api", Timestamp: now, CreatedAt: now},
		})
		if err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}
	}

	insert("1")
	if _, err := processor.RunOnce(context.Background(), 0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	insert("2")
	if _, err := processor.RunOnce(context.Background(), 0); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Same condition on the same connection within the window: one alert.
	alerts, err := store.Alerts().ListByProject(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("got %d alerts, want 1", len(alerts))
	}
}
