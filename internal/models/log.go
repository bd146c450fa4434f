// Package models contains the core data structures for LogTide.
package models

import (
	"encoding/json"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarn     LogLevel = "WARN"
	LevelError    LogLevel = "ERROR"
	LevelFatal    LogLevel = "FATAL"
	LevelCritical LogLevel = "CRITICAL"
)

// LogEntry represents a single ingested log event.
type LogEntry struct {
	// ID is the internal entry identifier.
	ID string `json:"id"`

	// ConnectionID identifies the connection this entry was fetched through.
	ConnectionID string `json:"connection_id"`

	// ProjectID identifies the owning project, copied from the connection.
	ProjectID string `json:"project_id"`

	// EventID is the provider-side event identifier used for deduplication.
	// Entries with a duplicate (connection_id, event_id) pair are never
	// inserted twice.
	EventID string `json:"event_id"`

	// Timestamp is when the log event occurred at the provider.
	Timestamp time.Time `json:"timestamp"`

	// Level is the severity level, either taken from an explicit provider
	// field or inferred from the message text.
	Level LogLevel `json:"level"`

	// Message is the main log message content.
	Message string `json:"message"`

	// Source labels where the log came from (service, host, log group).
	Source string `json:"source,omitempty"`

	// Metadata contains provider-specific fields carried along verbatim.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Analyzed is true once the entry has gone through the triage pass.
	// It transitions false to true exactly once.
	Analyzed bool `json:"analyzed"`

	// IsError and IsAnomaly are the triage verdict flags.
	IsError   bool `json:"is_error"`
	IsAnomaly bool `json:"is_anomaly"`

	// AISummary is the optional deep-analysis summary. Empty unless the
	// entry was flagged and enrichment (or its templated fallback) ran.
	AISummary string `json:"ai_summary,omitempty"`

	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// SetMetadata sets a metadata value.
func (e *LogEntry) SetMetadata(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// GetMetadata retrieves a metadata value.
func (e *LogEntry) GetMetadata(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Flagged reports whether triage marked the entry as an error or anomaly.
func (e *LogEntry) Flagged() bool {
	return e.IsError || e.IsAnomaly
}

// JSON returns the log entry as JSON bytes.
func (e *LogEntry) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// String returns a string representation of the log entry.
func (e *LogEntry) String() string {
	return e.Timestamp.Format(time.RFC3339) + " [" + string(e.Level) + "] " + e.Message
}

// ParseLogLevel normalizes a provider level string to a LogLevel.
// Unrecognized values map to INFO.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG", "Debug", "trace", "TRACE":
		return LevelDebug
	case "info", "INFO", "Info", "notice", "NOTICE":
		return LevelInfo
	case "warn", "WARN", "Warn", "warning", "WARNING", "Warning":
		return LevelWarn
	case "error", "ERROR", "Error", "err", "ERR":
		return LevelError
	case "fatal", "FATAL", "Fatal":
		return LevelFatal
	case "critical", "CRITICAL", "Critical", "crit", "CRIT", "emergency", "EMERGENCY", "alert", "ALERT":
		return LevelCritical
	default:
		return LevelInfo
	}
}
