package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

func TestInferLevel(t *testing.T) {
	tests := []struct {
		message string
		want    models.LogLevel
	}{
		{"CRITICAL: disk failure", models.LevelCritical},
		{"process exited with fatal signal", models.LevelCritical},
		{"error reading config", models.LevelError},
		{"WARN high memory usage", models.LevelWarn},
		{"warning: deprecated flag", models.LevelWarn},
		{"debug: cache hit", models.LevelDebug},
		{"request served in 30ms", models.LevelInfo},
		{"", models.LevelInfo},
	}

	for _, tt := range tests {
		if got := InferLevel(tt.message); got != tt.want {
			t.Errorf("InferLevel(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestResolveLevelExplicitWins(t *testing.T) {
	// Explicit provider level takes precedence over message keywords.
	if got := resolveLevel("info", "fatal error everywhere"); got != models.LevelInfo {
		t.Errorf("resolveLevel with explicit level = %q, want INFO", got)
	}
	if got := resolveLevel("", "fatal error everywhere"); got != models.LevelCritical {
		t.Errorf("resolveLevel fallback = %q, want CRITICAL", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantNil   bool
		wantAuth  bool
		wantRetry bool
	}{
		{200, true, false, false},
		{204, true, false, false},
		{401, false, true, false},
		{403, false, true, false},
		{429, false, false, true},
		{500, false, false, true},
		{503, false, false, true},
		{400, false, false, false},
		{404, false, false, false},
	}

	for _, tt := range tests {
		err := classifyStatus(tt.status, "body")
		if tt.wantNil {
			if err != nil {
				t.Errorf("classifyStatus(%d) = %v, want nil", tt.status, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("classifyStatus(%d) = nil, want error", tt.status)
			continue
		}
		if got := errors.Is(err, ErrAuth); got != tt.wantAuth {
			t.Errorf("classifyStatus(%d) auth = %v, want %v", tt.status, got, tt.wantAuth)
		}
		if got := IsTransient(err); got != tt.wantRetry {
			t.Errorf("classifyStatus(%d) transient = %v, want %v", tt.status, got, tt.wantRetry)
		}
	}
}

func lokiFixture(nanos int64, lines ...string) string {
	values := ""
	for i, line := range lines {
		if i > 0 {
			values += ","
		}
		values += fmt.Sprintf(`["%d",%q]`, nanos+int64(i), line)
	}
	return fmt.Sprintf(`{"status":"success","data":{"result":[{"stream":{"job":"api","level":"error"},"values":[%s]}]}}`, values)
}

func TestLokiFetchLogs(t *testing.T) {
	base := time.Now().Add(-10 * time.Minute).UnixNano()

	var gotStart string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		fmt.Fprint(w, lokiFixture(base, "connection refused by peer", "request ok"))
	}))
	defer srv.Close()

	conn := &models.Connection{
		ID:        "c1",
		ProjectID: "p1",
		Provider:  models.ProviderLoki,
		Endpoint:  srv.URL,
		Query:     `{job="api"}`,
	}
	loki := NewLoki(conn, "", DefaultOptions())

	result, err := loki.FetchLogs(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(result.Entries))
	}

	first := result.Entries[0]
	if first.ConnectionID != "c1" || first.ProjectID != "p1" {
		t.Errorf("entry not attributed to connection: %+v", first)
	}
	if first.Level != models.LevelError {
		t.Errorf("level = %q, want ERROR (explicit stream label)", first.Level)
	}
	if first.EventID == "" {
		t.Error("event ID not set")
	}
	wantCursor := fmt.Sprintf("%d", base+1)
	if result.Cursor != wantCursor {
		t.Errorf("cursor = %q, want %q", result.Cursor, wantCursor)
	}

	// A second fetch from the cursor must start past the last seen entry
	// so already-returned event IDs never repeat.
	if _, err := loki.FetchLogs(context.Background(), result.Cursor); err != nil {
		t.Fatalf("FetchLogs with cursor: %v", err)
	}
	wantStart := fmt.Sprintf("%d", base+2)
	if gotStart != wantStart {
		t.Errorf("second fetch start = %q, want %q", gotStart, wantStart)
	}
}

func TestLokiNoReplayAcrossCursor(t *testing.T) {
	base := time.Now().Add(-10 * time.Minute).UnixNano()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		// Simulate a provider that only returns events at or after start.
		if start == fmt.Sprintf("%d", base+1) {
			fmt.Fprint(w, `{"status":"success","data":{"result":[]}}`)
			return
		}
		fmt.Fprint(w, lokiFixture(base, "first event"))
	}))
	defer srv.Close()

	conn := &models.Connection{ID: "c1", Endpoint: srv.URL}
	loki := NewLoki(conn, "", DefaultOptions())

	first, err := loki.FetchLogs(context.Background(), "")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range first.Entries {
		seen[e.EventID] = true
	}

	second, err := loki.FetchLogs(context.Background(), first.Cursor)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	for _, e := range second.Entries {
		if seen[e.EventID] {
			t.Errorf("event %s returned twice across cursor fetches", e.EventID)
		}
	}
	if second.Cursor != first.Cursor {
		t.Errorf("empty fetch moved cursor: %q -> %q", first.Cursor, second.Cursor)
	}
}

func TestLokiAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	loki := NewLoki(&models.Connection{Endpoint: srv.URL}, "tenant", DefaultOptions())

	_, err := loki.FetchLogs(context.Background(), "")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
	if err := loki.TestConnection(context.Background()); !errors.Is(err, ErrAuth) {
		t.Errorf("TestConnection err = %v, want ErrAuth", err)
	}
}

func TestElasticsearchFetchLogs(t *testing.T) {
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "ApiKey secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"hits":{"hits":[
			{"_id":"doc-1","_source":{"@timestamp":%q,"level":"","message":"disk full on /var","service":"db"},"sort":[1234,"doc-1"]}
		]}}`, ts)
	}))
	defer srv.Close()

	conn := &models.Connection{ID: "c2", ProjectID: "p1", Endpoint: srv.URL, Query: "logs-app"}
	es := NewElasticsearch(conn, "secret", DefaultOptions())

	result, err := es.FetchLogs(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(result.Entries))
	}
	entry := result.Entries[0]
	if entry.EventID != "doc-1" {
		t.Errorf("event ID = %q, want doc-1", entry.EventID)
	}
	if entry.Level != models.LevelInfo {
		t.Errorf("level = %q, want INFO (no keyword, no explicit level)", entry.Level)
	}
	if result.Cursor != `[1234,"doc-1"]` {
		t.Errorf("cursor = %q, want sort key", result.Cursor)
	}
}

func TestDatadogFetchLogs(t *testing.T) {
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("DD-API-KEY") != "api" || r.Header.Get("DD-APPLICATION-KEY") != "app" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, `{"data":[
			{"id":"ev-1","attributes":{"timestamp":%q,"status":"warn","message":"slow query","service":"billing","tags":["env:prod"]}}
		],"meta":{"page":{"after":"next-token"}}}`, ts)
	}))
	defer srv.Close()

	conn := &models.Connection{ID: "c3", ProjectID: "p2", Endpoint: srv.URL, Query: "service:billing"}
	dd := NewDatadog(conn, "api:app", DefaultOptions())

	result, err := dd.FetchLogs(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchLogs: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(result.Entries))
	}
	entry := result.Entries[0]
	if entry.Level != models.LevelWarn {
		t.Errorf("level = %q, want WARN", entry.Level)
	}
	if entry.Metadata["env"] != "prod" {
		t.Errorf("tag metadata missing: %v", entry.Metadata)
	}
	if result.Cursor != "next-token" {
		t.Errorf("cursor = %q, want next-token", result.Cursor)
	}
}

func TestDatadogRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	dd := NewDatadog(&models.Connection{Endpoint: srv.URL}, "api:app", DefaultOptions())
	_, err := dd.FetchLogs(context.Background(), "")
	if !IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestNewSelectsVariant(t *testing.T) {
	tests := []struct {
		provider models.Provider
	}{
		{models.ProviderLoki},
		{models.ProviderElasticsearch},
		{models.ProviderDatadog},
	}
	for _, tt := range tests {
		conn := &models.Connection{Provider: tt.provider, Endpoint: "http://localhost"}
		c, err := New(conn, "", Options{})
		if err != nil {
			t.Fatalf("New(%s): %v", tt.provider, err)
		}
		if c.Provider() != tt.provider {
			t.Errorf("Provider() = %s, want %s", c.Provider(), tt.provider)
		}
	}

	if _, err := New(&models.Connection{Provider: "nope"}, "", Options{}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
