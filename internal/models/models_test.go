package models

import (
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LevelDebug},
		{"TRACE", LevelDebug},
		{"info", LevelInfo},
		{"NOTICE", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"ERR", LevelError},
		{"fatal", LevelFatal},
		{"CRITICAL", LevelCritical},
		{"emerg", LevelInfo}, // not in the mapping, defaults
		{"", LevelInfo},
		{"whatever", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDedupKeySameBucket(t *testing.T) {
	window := 10 * time.Minute
	base := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)

	k1 := DedupKey("conn-1", AlertTypeErrorSpike, base, window)
	k2 := DedupKey("conn-1", AlertTypeErrorSpike, base.Add(4*time.Minute), window)
	if k1 != k2 {
		t.Errorf("keys in the same bucket differ: %q vs %q", k1, k2)
	}

	k3 := DedupKey("conn-1", AlertTypeErrorSpike, base.Add(window), window)
	if k1 == k3 {
		t.Errorf("keys in different buckets match: %q", k1)
	}

	k4 := DedupKey("conn-2", AlertTypeErrorSpike, base, window)
	if k1 == k4 {
		t.Error("keys for different connections match")
	}

	k5 := DedupKey("conn-1", AlertTypeAnomaly, base, window)
	if k1 == k5 {
		t.Error("keys for different alert types match")
	}
}

func TestSeverityRank(t *testing.T) {
	if SeverityCritical.Rank() <= SeverityHigh.Rank() {
		t.Error("critical should rank above high")
	}
	if SeverityHigh.Rank() <= SeverityMedium.Rank() {
		t.Error("high should rank above medium")
	}
	if SeverityMedium.Rank() <= SeverityLow.Rank() {
		t.Error("medium should rank above low")
	}
}

func TestStreamEventDroppable(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventHeartbeat, true},
		{EventStatsUpdate, true},
		{EventLogEntry, false},
		{EventAlert, false},
		{EventConnectionStatus, false},
	}

	for _, tt := range tests {
		ev := NewStreamEvent(tt.eventType, "p1", nil)
		if got := ev.Droppable(); got != tt.want {
			t.Errorf("Droppable(%s) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestNewStreamEventPayload(t *testing.T) {
	ev := NewStreamEvent(EventConnectionStatus, "p1", &ConnectionStatusPayload{
		ConnectionID: "c1",
		Health:       HealthDegraded,
	})
	if ev.ProjectID != "p1" {
		t.Errorf("ProjectID = %q, want p1", ev.ProjectID)
	}
	if len(ev.Payload) == 0 {
		t.Fatal("payload not marshaled")
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
