package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashen-peak/logtide/internal/bus"
	"github.com/ashen-peak/logtide/internal/connector"
	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/storage"
)

// fakeConnector returns scripted results per FetchLogs call.
type fakeConnector struct {
	conn    *models.Connection
	results []fetchStep
	calls   int
}

type fetchStep struct {
	entries []*models.LogEntry
	cursor  string
	err     error
}

func (f *fakeConnector) Provider() models.Provider           { return f.conn.Provider }
func (f *fakeConnector) TestConnection(context.Context) error { return nil }

func (f *fakeConnector) FetchLogs(ctx context.Context, cursor string) (*connector.FetchResult, error) {
	step := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	if step.err != nil {
		return nil, step.err
	}
	return &connector.FetchResult{Entries: step.entries, Cursor: step.cursor}, nil
}

func newTestScheduler(t *testing.T, store storage.Store, fake *fakeConnector) (*Scheduler, *bus.MemBus) {
	t.Helper()
	b := bus.NewMemBus(64)
	t.Cleanup(func() { b.Close() })

	sched := NewScheduler(store, b,
		func(ref string) (string, error) { return "secret", nil },
		SchedulerOptions{
			Factory: func(conn *models.Connection, credential string) (connector.Connector, error) {
				fake.conn = conn
				return fake, nil
			},
			NewBackoff: func() *Backoff {
				return &Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
			},
		})
	return sched, b
}

func seedConnection(t *testing.T, store storage.Store) *models.Connection {
	t.Helper()
	conn := models.NewConnection("prod-loki", models.ProviderLoki, "p1")
	conn.CredentialRef = "loki-prod"
	if err := store.Connections().Create(context.Background(), conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func entriesFor(conn *models.Connection, eventIDs ...string) []*models.LogEntry {
	now := time.Now().UTC()
	out := make([]*models.LogEntry, len(eventIDs))
	for i, id := range eventIDs {
		out[i] = &models.LogEntry{
			ConnectionID: conn.ID,
			ProjectID:    conn.ProjectID,
			EventID:      id,
			Timestamp:    now,
			Level:        models.LevelInfo,
			Message:      "entry " + id,
			CreatedAt:    now,
		}
	}
	return out
}

func drainEvents(b *bus.MemBus) []*models.StreamEvent {
	var events []*models.StreamEvent
	for {
		select {
		case ev := <-b.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestPollOnceSuccess(t *testing.T) {
	store := storage.NewMemStore()
	conn := seedConnection(t, store)
	fake := &fakeConnector{results: []fetchStep{
		{entries: entriesFor(conn, "1", "2", "3"), cursor: "cursor-3"},
	}}
	sched, b := newTestScheduler(t, store, fake)

	if err := sched.PollOnce(context.Background(), conn.ID); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	got, err := store.Connections().GetByID(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Cursor != "cursor-3" {
		t.Errorf("cursor = %q, want cursor-3", got.Cursor)
	}
	if got.Health != models.HealthHealthy {
		t.Errorf("health = %q, want healthy", got.Health)
	}
	if got.LastPolledAt == nil {
		t.Error("last polled time not recorded")
	}

	events := drainEvents(b)
	logEvents := 0
	for _, ev := range events {
		if ev.Type == models.EventLogEntry {
			logEvents++
			if ev.ProjectID != "p1" {
				t.Errorf("event project = %q, want p1", ev.ProjectID)
			}
		}
	}
	if logEvents != 3 {
		t.Errorf("published %d log_entry events, want 3", logEvents)
	}
}

func TestPollOnceIdempotent(t *testing.T) {
	store := storage.NewMemStore()
	conn := seedConnection(t, store)
	entries := entriesFor(conn, "1", "2")
	fake := &fakeConnector{results: []fetchStep{
		{entries: entries, cursor: "c1"},
		{entries: entries, cursor: "c1"},
	}}
	sched, b := newTestScheduler(t, store, fake)
	ctx := context.Background()

	if err := sched.PollOnce(ctx, conn.ID); err != nil {
		t.Fatalf("first PollOnce: %v", err)
	}
	drainEvents(b)

	// A replayed fetch stores nothing new and announces nothing.
	if err := sched.PollOnce(ctx, conn.ID); err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	for _, ev := range drainEvents(b) {
		if ev.Type == models.EventLogEntry {
			t.Errorf("replayed fetch published a log_entry event: %s", ev.Payload)
		}
	}

	entries2 := entriesFor(conn, "1", "2")
	inserted, err := store.Logs().InsertBatch(ctx, entries2)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if len(inserted) != 0 {
		t.Errorf("replayed entries inserted %d rows, want 0", len(inserted))
	}
}

func TestPollOnceAuthFailurePausesPoller(t *testing.T) {
	store := storage.NewMemStore()
	conn := seedConnection(t, store)
	fake := &fakeConnector{results: []fetchStep{
		{err: connector.ErrAuth},
	}}
	sched, b := newTestScheduler(t, store, fake)

	err := sched.PollOnce(context.Background(), conn.ID)
	if !errors.Is(err, errAuthPaused) {
		t.Fatalf("err = %v, want auth pause", err)
	}

	got, _ := store.Connections().GetByID(context.Background(), conn.ID)
	if got.Health != models.HealthAuthFailed {
		t.Errorf("health = %q, want auth_failed", got.Health)
	}

	var statusEvents int
	for _, ev := range drainEvents(b) {
		if ev.Type == models.EventConnectionStatus {
			statusEvents++
		}
	}
	if statusEvents != 1 {
		t.Errorf("published %d connection_status events, want 1", statusEvents)
	}
	if fake.calls != 0 {
		t.Errorf("auth failure was retried %d times", fake.calls)
	}
}

func TestPollOnceRetriesTransientThenSucceeds(t *testing.T) {
	store := storage.NewMemStore()
	conn := seedConnection(t, store)
	fake := &fakeConnector{results: []fetchStep{
		{err: connector.Transient(errors.New("rate limited"))},
		{err: connector.Transient(errors.New("rate limited"))},
		{entries: entriesFor(conn, "1"), cursor: "c1"},
	}}
	sched, _ := newTestScheduler(t, store, fake)

	if err := sched.PollOnce(context.Background(), conn.ID); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("fetch attempts = %d, want 3 (two retries)", fake.calls+1)
	}

	got, _ := store.Connections().GetByID(context.Background(), conn.ID)
	if got.Health != models.HealthHealthy {
		t.Errorf("health = %q, want healthy", got.Health)
	}
}

func TestPollOnceTransientExhaustionDegrades(t *testing.T) {
	store := storage.NewMemStore()
	conn := seedConnection(t, store)
	fake := &fakeConnector{results: []fetchStep{
		{err: connector.Transient(errors.New("rate limited"))},
	}}
	sched, _ := newTestScheduler(t, store, fake)

	if err := sched.PollOnce(context.Background(), conn.ID); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	got, _ := store.Connections().GetByID(context.Background(), conn.ID)
	if got.Health != models.HealthDegraded {
		t.Errorf("health = %q, want degraded", got.Health)
	}
}

func TestPollOnceSkipsDisabledConnection(t *testing.T) {
	store := storage.NewMemStore()
	conn := models.NewConnection("paused", models.ProviderLoki, "p1")
	conn.Enabled = false
	if err := store.Connections().Create(context.Background(), conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	fake := &fakeConnector{results: []fetchStep{{entries: nil}}}
	sched, _ := newTestScheduler(t, store, fake)

	if err := sched.PollOnce(context.Background(), conn.ID); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if fake.calls != 0 {
		t.Error("disabled connection was fetched")
	}
}

func TestRunPicksUpNewConnection(t *testing.T) {
	store := storage.NewMemStore()
	fake := &fakeConnector{results: []fetchStep{{cursor: "c0"}}}
	b := bus.NewMemBus(64)
	defer b.Close()

	sched := NewScheduler(store, b,
		func(ref string) (string, error) { return "secret", nil },
		SchedulerOptions{
			Interval:        5 * time.Millisecond,
			RefreshInterval: 5 * time.Millisecond,
			Factory: func(conn *models.Connection, credential string) (connector.Connector, error) {
				return fake, nil
			},
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	// The connection appears only after the scheduler is already running.
	time.Sleep(10 * time.Millisecond)
	conn := seedConnection(t, store)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.Connections().GetByID(context.Background(), conn.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.LastPolledAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection created at runtime was never polled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestBackoffGrowth(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}

	durations := []time.Duration{b.Next(), b.Next(), b.Next()}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, d := range durations {
		if d != want[i] {
			t.Errorf("Next()[%d] = %s, want %s", i, d, want[i])
		}
	}

	for i := 0; i < 10; i++ {
		b.Next()
	}
	if d := b.Next(); d != 30*time.Second {
		t.Errorf("capped delay = %s, want 30s", d)
	}

	b.Reset()
	if d := b.Next(); d != time.Second {
		t.Errorf("after reset = %s, want 1s", d)
	}
}
