// Package storage provides persistence interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the main interface for database operations.
type Store interface {
	// Connections returns the connection repository.
	Connections() ConnectionRepository
	// Logs returns the log entry repository.
	Logs() LogRepository
	// Alerts returns the alert repository.
	Alerts() AlertRepository
	// Memberships returns the project membership repository.
	Memberships() MembershipRepository
	// Close releases the underlying database resources.
	Close() error
}

// ConnectionRepository defines operations on connection records.
// Connection creation and deletion belong to an external owner; the
// pipeline only reads configuration and writes cursor and health.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *models.Connection) error
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	ListEnabled(ctx context.Context) ([]*models.Connection, error)
	// UpdateCursor persists the advanced cursor after a successful fetch.
	UpdateCursor(ctx context.Context, id, cursor string, polledAt time.Time) error
	// UpdateHealth records the connection's polling health.
	UpdateHealth(ctx context.Context, id string, health models.ConnectionHealth) error
}

// AnalyzeFunc computes triage verdicts for claimed entries. It must be
// pure and perform no I/O: it runs inside the claim transaction.
type AnalyzeFunc func(entries []*models.LogEntry)

// LogRepository defines operations on log entries.
type LogRepository interface {
	// InsertBatch persists entries, silently skipping any whose
	// (connection_id, event_id) pair already exists. Returns the entries
	// actually inserted, each with its assigned id.
	InsertBatch(ctx context.Context, entries []*models.LogEntry) ([]*models.LogEntry, error)

	// ClaimAndAnalyze atomically claims up to limit unanalyzed entries
	// (newest first), invokes analyze to fill in the verdict flags, and
	// commits flags together with analyzed = true. On failure the whole
	// claim rolls back and the entries remain unanalyzed. Concurrent
	// callers never claim the same entry.
	ClaimAndAnalyze(ctx context.Context, limit int, analyze AnalyzeFunc) ([]*models.LogEntry, error)

	// UpdateSummary sets the deep-analysis summary on an already
	// analyzed entry.
	UpdateSummary(ctx context.Context, id, summary string) error

	// CountUnanalyzed reports the current analysis backlog.
	CountUnanalyzed(ctx context.Context) (int64, error)
}

// AlertRepository defines operations on alert records.
type AlertRepository interface {
	// Create inserts the alert unless one with the same dedup key
	// already exists. Returns false (and no error) when the insert was
	// suppressed by the dedup constraint.
	Create(ctx context.Context, alert *models.Alert) (bool, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]*models.Alert, error)
}

// MembershipRepository backs the project authorization check.
type MembershipRepository interface {
	// MaySubscribe reports whether the user can attach a live view to
	// the project.
	MaySubscribe(ctx context.Context, userID, projectID string) (bool, error)
	// Grant records project membership. Membership management itself is
	// owned by an external collaborator; this exists for bootstrap and
	// tests.
	Grant(ctx context.Context, userID, projectID string) error
}
