package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashen-peak/logtide/internal/models"
)

type pgAlerts struct {
	pool *pgxpool.Pool
}

// Create inserts the alert; the unique dedup_key constraint is the
// cross-process backstop for the dedup window. A conflicting insert is
// reported as suppression, not an error.
func (r *pgAlerts) Create(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO alerts (id, connection_id, project_id, type, severity, title,
			description, dedup_key, log_entry_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (dedup_key) DO NOTHING`,
		alert.ID, alert.ConnectionID, alert.ProjectID, alert.Type, alert.Severity,
		alert.Title, alert.Description, alert.DedupKey, nullIfEmpty(alert.LogEntryID),
		alert.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgAlerts) ListByProject(ctx context.Context, projectID string, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, connection_id, project_id, type, severity, title, description,
			dedup_key, COALESCE(log_entry_id, ''), created_at
		FROM alerts WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`,
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

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
