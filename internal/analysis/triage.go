// Package analysis classifies ingested log entries. Triage is a pure,
// zero-I/O rule pass applied to every entry; deep analysis is a best-effort
// LLM enrichment applied only to entries triage has flagged.
package analysis

import (
	"strings"

	"github.com/ashen-peak/logtide/internal/models"
)

// Verdict is the triage result for a single entry.
type Verdict struct {
	IsError   bool
	IsAnomaly bool
	Severity  models.Severity
}

// Flagged reports whether the entry needs deep analysis and alerting.
func (v Verdict) Flagged() bool { return v.IsError || v.IsAnomaly }

var errorLevels = map[models.LogLevel]bool{
	models.LevelError:    true,
	models.LevelFatal:    true,
	models.LevelCritical: true,
}

var errorKeywords = []string{
	"error", "exception", "fatal", "failed", "failure",
	"crash", "panic", "died", "killed", "terminated",
}

var anomalyKeywords = []string{
	"timeout", "connection refused", "out of memory", "disk full",
	"permission denied", "access denied", "unauthorized",
	"slow", "high latency", "bottleneck",
}

var criticalKeywords = []string{"fatal", "critical"}

// Triage classifies a log entry from its level and message alone. It is
// deterministic: identical inputs always produce identical verdicts.
func Triage(level models.LogLevel, message string) Verdict {
	msg := strings.ToLower(message)

	errorKeyword := containsAny(msg, errorKeywords)
	anomalyKeyword := containsAny(msg, anomalyKeywords)

	v := Verdict{
		IsError:   errorLevels[level] || errorKeyword,
		IsAnomaly: level == models.LevelWarn || level == "WARNING" || anomalyKeyword,
	}

	switch {
	case containsAny(msg, criticalKeywords):
		v.Severity = models.SeverityCritical
	case v.IsError:
		v.Severity = models.SeverityHigh
	case anomalyKeyword:
		// A hard anomaly signal in the message outranks a benign level.
		v.Severity = models.SeverityHigh
	case v.IsAnomaly:
		v.Severity = models.SeverityMedium
	default:
		v.Severity = models.SeverityLow
	}
	return v
}

// Apply writes the verdict onto the entry's analysis flags.
func (v Verdict) Apply(entry *models.LogEntry) {
	entry.IsError = v.IsError
	entry.IsAnomaly = v.IsAnomaly
}

func containsAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
