package connector

import (
	"strings"

	"github.com/ashen-peak/logtide/internal/models"
)

// InferLevel applies the fixed keyword heuristic to free-text messages.
// Used only when the provider record carries no usable level field; an
// explicit level always takes precedence.
func InferLevel(message string) models.LogLevel {
	upper := strings.ToUpper(message)
	switch {
	case strings.Contains(upper, "CRITICAL"), strings.Contains(upper, "FATAL"):
		return models.LevelCritical
	case strings.Contains(upper, "ERROR"):
		return models.LevelError
	case strings.Contains(upper, "WARN"):
		return models.LevelWarn
	case strings.Contains(upper, "DEBUG"):
		return models.LevelDebug
	default:
		return models.LevelInfo
	}
}

// resolveLevel picks the explicit provider level when present, otherwise
// falls back to the keyword heuristic on the message.
func resolveLevel(explicit, message string) models.LogLevel {
	if explicit != "" {
		return models.ParseLogLevel(explicit)
	}
	return InferLevel(message)
}
