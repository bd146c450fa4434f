package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashen-peak/logtide/internal/models"
)

type sqliteConnections struct {
	db *sql.DB
}

const sqliteConnectionColumns = `id, name, provider, project_id, endpoint, credential_ref,
	query, cursor, health, last_polled_at, enabled, created_at, updated_at`

func (r *sqliteConnections) Create(ctx context.Context, conn *models.Connection) error {
	query := `INSERT INTO connections (` + sqliteConnectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		conn.ID, conn.Name, conn.Provider, conn.ProjectID, conn.Endpoint,
		conn.CredentialRef, conn.Query, conn.Cursor, conn.Health,
		conn.LastPolledAt, conn.Enabled, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (r *sqliteConnections) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `SELECT ` + sqliteConnectionColumns + ` FROM connections WHERE id = ?`
	conn, err := scanSQLiteConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return conn, nil
}

func (r *sqliteConnections) ListEnabled(ctx context.Context) ([]*models.Connection, error) {
	query := `SELECT ` + sqliteConnectionColumns + ` FROM connections WHERE enabled = 1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn := &models.Connection{}
		var provider, health string
		var lastPolledAt sql.NullTime
		err := rows.Scan(
			&conn.ID, &conn.Name, &provider, &conn.ProjectID, &conn.Endpoint,
			&conn.CredentialRef, &conn.Query, &conn.Cursor, &health,
			&lastPolledAt, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conn.Provider = models.Provider(provider)
		conn.Health = models.ConnectionHealth(health)
		if lastPolledAt.Valid {
			conn.LastPolledAt = &lastPolledAt.Time
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *sqliteConnections) UpdateCursor(ctx context.Context, id, cursor string, polledAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connections SET cursor = ?, last_polled_at = ?, updated_at = ? WHERE id = ?`,
		cursor, polledAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteConnections) UpdateHealth(ctx context.Context, id string, health models.ConnectionHealth) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connections SET health = ?, updated_at = ? WHERE id = ?`,
		health, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update health: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanSQLiteConnection(row *sql.Row) (*models.Connection, error) {
	conn := &models.Connection{}
	var provider, health string
	var lastPolledAt sql.NullTime
	err := row.Scan(
		&conn.ID, &conn.Name, &provider, &conn.ProjectID, &conn.Endpoint,
		&conn.CredentialRef, &conn.Query, &conn.Cursor, &health,
		&lastPolledAt, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	conn.Provider = models.Provider(provider)
	conn.Health = models.ConnectionHealth(health)
	if lastPolledAt.Valid {
		conn.LastPolledAt = &lastPolledAt.Time
	}
	return conn, nil
}

type sqliteLogs struct {
	db *sql.DB
}

func (r *sqliteLogs) InsertBatch(ctx context.Context, entries []*models.LogEntry) ([]*models.LogEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	var inserted []*models.LogEntry
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		var metadata any
		if len(entry.Metadata) > 0 {
			data, err := json.Marshal(entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(data)
		}

		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO log_entries (id, connection_id, project_id, event_id,
				ts, level, message, source, metadata, analyzed, is_error, is_anomaly, ai_summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, '', ?)`,
			entry.ID, entry.ConnectionID, entry.ProjectID, entry.EventID,
			entry.Timestamp, entry.Level, entry.Message, entry.Source, metadata,
			time.Now().UTC(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert log entry: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			inserted = append(inserted, entry)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ClaimAndAnalyze relies on SQLite's single-writer transactions: the
// guarded UPDATE only flips rows still unanalyzed, so a row claimed by a
// concurrent batch is skipped rather than processed twice.
func (r *sqliteLogs) ClaimAndAnalyze(ctx context.Context, limit int, analyze AnalyzeFunc) ([]*models.LogEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	rows, err := tx.QueryContext(ctx,
		`SELECT id, connection_id, project_id, event_id, ts, level, message, source, metadata, created_at
		FROM log_entries WHERE analyzed = 0 ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unanalyzed: %w", err)
	}

	entries, err := scanSQLiteLogEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit()
	}

	analyze(entries)

	var claimed []*models.LogEntry
	for _, entry := range entries {
		result, err := tx.ExecContext(ctx,
			`UPDATE log_entries SET analyzed = 1, is_error = ?, is_anomaly = ?
			WHERE id = ? AND analyzed = 0`,
			entry.IsError, entry.IsAnomaly, entry.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("commit verdict: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected > 0 {
			entry.Analyzed = true
			claimed = append(claimed, entry)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return claimed, nil
}

func (r *sqliteLogs) UpdateSummary(ctx context.Context, id, summary string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE log_entries SET ai_summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("log entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteLogs) CountUnanalyzed(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM log_entries WHERE analyzed = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unanalyzed: %w", err)
	}
	return n, nil
}

func scanSQLiteLogEntries(rows *sql.Rows) ([]*models.LogEntry, error) {
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var level string
		var metadata sql.NullString
		err := rows.Scan(
			&entry.ID, &entry.ConnectionID, &entry.ProjectID, &entry.EventID,
			&entry.Timestamp, &level, &entry.Message, &entry.Source,
			&metadata, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Level = models.LogLevel(level)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type sqliteAlerts struct {
	db *sql.DB
}

func (r *sqliteAlerts) Create(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (id, connection_id, project_id, type, severity,
			title, description, dedup_key, log_entry_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.ConnectionID, alert.ProjectID, alert.Type, alert.Severity,
		alert.Title, alert.Description, alert.DedupKey, alert.LogEntryID, alert.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteAlerts) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, connection_id, project_id, type, severity, title, description,
			dedup_key, COALESCE(log_entry_id, ''), created_at
		FROM alerts WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert := &models.Alert{}
		var alertType, severity string
		err := rows.Scan(
			&alert.ID, &alert.ConnectionID, &alert.ProjectID, &alertType, &severity,
			&alert.Title, &alert.Description, &alert.DedupKey, &alert.LogEntryID,
			&alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Type = models.AlertType(alertType)
		alert.Severity = models.Severity(severity)
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

type sqliteMembers struct {
	db *sql.DB
}

func (r *sqliteMembers) MaySubscribe(ctx context.Context, userID, projectID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

func (r *sqliteMembers) Grant(ctx context.Context, userID, projectID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}
	return nil
}
