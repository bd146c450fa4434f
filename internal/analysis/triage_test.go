package analysis

import (
	"testing"

	"github.com/ashen-peak/logtide/internal/models"
)

func TestTriage(t *testing.T) {
	tests := []struct {
		name      string
		level     models.LogLevel
		message   string
		isError   bool
		isAnomaly bool
		severity  models.Severity
	}{
		{
			name:     "info baseline",
			level:    models.LevelInfo,
			message:  "request served in 12ms",
			severity: models.SeverityLow,
		},
		{
			name:     "error level flags error",
			level:    models.LevelError,
			message:  "disk write failed",
			isError:  true,
			severity: models.SeverityHigh,
		},
		{
			name:      "anomaly keyword overrides benign level",
			level:     models.LevelInfo,
			message:   "connection refused by peer",
			isAnomaly: true,
			severity:  models.SeverityHigh,
		},
		{
			name:      "warn level alone is medium",
			level:     models.LevelWarn,
			message:   "retrying request",
			isAnomaly: true,
			severity:  models.SeverityMedium,
		},
		{
			name:      "warn with timeout keyword",
			level:     models.LevelWarn,
			message:   "request timeout",
			isAnomaly: true,
			severity:  models.SeverityHigh,
		},
		{
			name:     "error keyword in info message",
			level:    models.LevelInfo,
			message:  "task terminated unexpectedly",
			isError:  true,
			severity: models.SeverityHigh,
		},
		{
			name:     "fatal keyword escalates to critical",
			level:    models.LevelError,
			message:  "fatal: segmentation fault",
			isError:  true,
			severity: models.SeverityCritical,
		},
		{
			name:     "critical keyword escalates severity only",
			level:    models.LevelInfo,
			message:  "critical temperature threshold reached",
			severity: models.SeverityCritical,
		},
		{
			name:     "keyword match is case insensitive",
			level:    models.LevelInfo,
			message:  "Process CRASHED with Exception",
			isError:  true,
			severity: models.SeverityHigh,
		},
		{
			name:      "out of memory",
			level:     models.LevelInfo,
			message:   "worker out of memory, restarting",
			isAnomaly: true,
			severity:  models.SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Triage(tt.level, tt.message)
			if v.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v", v.IsError, tt.isError)
			}
			if v.IsAnomaly != tt.isAnomaly {
				t.Errorf("IsAnomaly = %v, want %v", v.IsAnomaly, tt.isAnomaly)
			}
			if v.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", v.Severity, tt.severity)
			}
		})
	}
}

func TestTriageDeterministic(t *testing.T) {
	first := Triage(models.LevelError, "disk write failed")
	for i := 0; i < 100; i++ {
		if got := Triage(models.LevelError, "disk write failed"); got != first {
			t.Fatalf("verdict changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestVerdictApply(t *testing.T) {
	entry := &models.LogEntry{}
	Verdict{IsError: true, IsAnomaly: true}.Apply(entry)
	if !entry.IsError || !entry.IsAnomaly {
		t.Errorf("flags not applied: %+v", entry)
	}
}
