package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/storage"
)

func flaggedEntry() *models.LogEntry {
	return &models.LogEntry{
		ID:           "e1",
		ConnectionID: "c1",
		ProjectID:    "p1",
		Level:        models.LevelError,
		Message:      "disk write failed",
		Source:       "api-server",
		IsError:      true,
	}
}

func TestProcessDedupWindow(t *testing.T) {
	store := storage.NewMemStore()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(store.Alerts(), Options{
		Window: 10 * time.Minute,
		Now:    func() time.Time { return clock },
	})
	ctx := context.Background()

	alert, created, err := engine.Process(ctx, flaggedEntry(), models.SeverityHigh, "summary")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !created || alert == nil {
		t.Fatal("first alert not created")
	}
	if alert.Type != models.AlertTypeErrorSpike {
		t.Errorf("type = %q, want error_spike", alert.Type)
	}

	// Same condition inside the window collapses.
	clock = clock.Add(3 * time.Minute)
	_, created, err = engine.Process(ctx, flaggedEntry(), models.SeverityHigh, "summary")
	if err != nil {
		t.Fatalf("Process repeat: %v", err)
	}
	if created {
		t.Error("repeat inside window was not suppressed")
	}

	// Past the window a new bucket opens.
	clock = clock.Add(15 * time.Minute)
	_, created, err = engine.Process(ctx, flaggedEntry(), models.SeverityHigh, "summary")
	if err != nil {
		t.Fatalf("Process after window: %v", err)
	}
	if !created {
		t.Error("alert after window was suppressed")
	}

	raised, suppressed := engine.Stats()
	if raised != 2 || suppressed != 1 {
		t.Errorf("stats = (%d raised, %d suppressed), want (2, 1)", raised, suppressed)
	}
}

func TestProcessUnflaggedEntry(t *testing.T) {
	store := storage.NewMemStore()
	engine := NewEngine(store.Alerts(), Options{})

	entry := flaggedEntry()
	entry.IsError = false
	entry.IsAnomaly = false

	alert, created, err := engine.Process(context.Background(), entry, models.SeverityLow, "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if created || alert != nil {
		t.Error("unflagged entry produced an alert")
	}
}

func TestProcessAnomalyType(t *testing.T) {
	store := storage.NewMemStore()
	engine := NewEngine(store.Alerts(), Options{})

	entry := flaggedEntry()
	entry.IsError = false
	entry.IsAnomaly = true
	entry.Level = models.LevelWarn
	entry.Message = "request timeout"

	alert, created, err := engine.Process(context.Background(), entry, models.SeverityHigh, "slow upstream")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !created {
		t.Fatal("anomaly alert not created")
	}
	if alert.Type != models.AlertTypeAnomaly {
		t.Errorf("type = %q, want anomaly", alert.Type)
	}
	if alert.Description != "slow upstream" {
		t.Errorf("description = %q", alert.Description)
	}
}

func TestProcessStoreBackstop(t *testing.T) {
	store := storage.NewMemStore()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(store.Alerts(), Options{
		Window: 10 * time.Minute,
		Now:    func() time.Time { return clock },
	})
	ctx := context.Background()

	// Another process already persisted this bucket's alert.
	key := models.DedupKey("c1", models.AlertTypeErrorSpike, clock, 10*time.Minute)
	_, err := store.Alerts().Create(ctx, &models.Alert{
		ConnectionID: "c1",
		ProjectID:    "p1",
		Type:         models.AlertTypeErrorSpike,
		Severity:     models.SeverityHigh,
		Title:        "raised elsewhere",
		DedupKey:     key,
		CreatedAt:    clock,
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	_, created, err := engine.Process(ctx, flaggedEntry(), models.SeverityHigh, "summary")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if created {
		t.Error("store conflict was not treated as suppression")
	}

	alerts, err := store.Alerts().ListByProject(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("got %d alerts, want 1", len(alerts))
	}
}

func TestDedupCache(t *testing.T) {
	cache := NewDedupCache(5 * time.Minute)
	now := time.Now()

	if cache.Suppressed("k", now) {
		t.Error("unknown key reported suppressed")
	}
	cache.Mark("k", now)
	if !cache.Suppressed("k", now.Add(4*time.Minute)) {
		t.Error("key inside window not suppressed")
	}
	if cache.Suppressed("k", now.Add(6*time.Minute)) {
		t.Error("expired key still suppressed")
	}

	cache.Clear()
	if cache.Suppressed("k", now) {
		t.Error("cleared key still suppressed")
	}
}
