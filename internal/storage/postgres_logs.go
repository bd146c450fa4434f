package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashen-peak/logtide/internal/models"
)

type pgLogs struct {
	pool *pgxpool.Pool
}

func (r *pgLogs) InsertBatch(ctx context.Context, entries []*models.LogEntry) ([]*models.LogEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var inserted []*models.LogEntry
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		var metadata []byte
		if len(entry.Metadata) > 0 {
			metadata, err = json.Marshal(entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("marshal metadata: %w", err)
			}
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO log_entries (id, connection_id, project_id, event_id, ts, level,
				message, source, metadata, analyzed, is_error, is_anomaly, ai_summary, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,FALSE,FALSE,'',now())
			ON CONFLICT (connection_id, event_id) DO NOTHING`,
			entry.ID, entry.ConnectionID, entry.ProjectID, entry.EventID,
			entry.Timestamp, entry.Level, entry.Message, entry.Source, metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("insert log entry: %w", err)
		}
		if tag.RowsAffected() > 0 {
			inserted = append(inserted, entry)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ClaimAndAnalyze locks a batch of unanalyzed entries with SKIP LOCKED so
// concurrent analyzer instances never claim the same entry, runs the pure
// verdict function, and commits flags and analyzed = true atomically.
func (r *pgLogs) ClaimAndAnalyze(ctx context.Context, limit int, analyze AnalyzeFunc) ([]*models.LogEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	rows, err := tx.Query(ctx,
		`SELECT id, connection_id, project_id, event_id, ts, level, message, source, metadata, created_at
		FROM log_entries
		WHERE NOT analyzed
		ORDER BY created_at DESC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unanalyzed: %w", err)
	}

	entries, err := scanLogEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit(ctx)
	}

	analyze(entries)

	for _, entry := range entries {
		entry.Analyzed = true
		_, err := tx.Exec(ctx,
			`UPDATE log_entries SET analyzed = TRUE, is_error = $1, is_anomaly = $2 WHERE id = $3`,
			entry.IsError, entry.IsAnomaly, entry.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("commit verdict: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entries, nil
}

func (r *pgLogs) UpdateSummary(ctx context.Context, id, summary string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE log_entries SET ai_summary = $1 WHERE id = $2`,
		summary, id,
	)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("log entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *pgLogs) CountUnanalyzed(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM log_entries WHERE NOT analyzed`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unanalyzed: %w", err)
	}
	return n, nil
}

func scanLogEntries(rows pgx.Rows) ([]*models.LogEntry, error) {
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var level string
		var metadata []byte
		err := rows.Scan(
			&entry.ID, &entry.ConnectionID, &entry.ProjectID, &entry.EventID,
			&entry.Timestamp, &level, &entry.Message, &entry.Source,
			&metadata, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Level = models.LogLevel(level)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
