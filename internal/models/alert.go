package models

import (
	"fmt"
	"time"
)

// AlertType represents the condition class that raised an alert.
type AlertType string

const (
	AlertTypeErrorSpike AlertType = "error_spike"
	AlertTypeAnomaly    AlertType = "anomaly"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for display and comparison.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric ordering of the severity, higher is worse.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Alert is an immutable record of a flagged log condition.
// No two alerts share the same dedup key within the dedup window.
type Alert struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	ProjectID    string    `json:"project_id"`
	Type         AlertType `json:"type"`
	Severity     Severity  `json:"severity"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`

	// DedupKey collapses repeated identical conditions. Derived from
	// connection, alert type, and a coarse time bucket.
	DedupKey string `json:"dedup_key"`

	// LogEntryID references the entry that triggered the alert.
	LogEntryID string `json:"log_entry_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DedupKey builds the dedup key for a (connection, type, bucket) triple.
// The bucket is the alert time truncated to the dedup window, so all
// identical conditions inside one window collapse to the same key.
func DedupKey(connectionID string, alertType AlertType, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Minute
	}
	bucket := at.Truncate(window).Unix()
	return fmt.Sprintf("%s:%s:%d", connectionID, alertType, bucket)
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
