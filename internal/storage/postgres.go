package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashen-peak/logtide/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore persists pipeline state in PostgreSQL. It is the backend
// for multi-process deployments: the claim step and the alert dedup
// constraint hold across processes sharing one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL, applies the schema, and
// returns a ready store.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool for collaborators that share the
// database connection, such as the NOTIFY bus.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Connections returns the connection repository.
func (s *PostgresStore) Connections() ConnectionRepository { return &pgConnections{pool: s.pool} }

// Logs returns the log entry repository.
func (s *PostgresStore) Logs() LogRepository { return &pgLogs{pool: s.pool} }

// Alerts returns the alert repository.
func (s *PostgresStore) Alerts() AlertRepository { return &pgAlerts{pool: s.pool} }

// Memberships returns the membership repository.
func (s *PostgresStore) Memberships() MembershipRepository { return &pgMembers{pool: s.pool} }

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgConnections struct {
	pool *pgxpool.Pool
}

const connectionColumns = `id, name, provider, project_id, endpoint, credential_ref, query,
	cursor, health, last_polled_at, enabled, created_at, updated_at`

func (r *pgConnections) Create(ctx context.Context, conn *models.Connection) error {
	query := `INSERT INTO connections (` + connectionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.pool.Exec(ctx, query,
		conn.ID, conn.Name, conn.Provider, conn.ProjectID, conn.Endpoint,
		conn.CredentialRef, conn.Query, conn.Cursor, conn.Health,
		conn.LastPolledAt, conn.Enabled, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (r *pgConnections) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	conn, err := scanConnection(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return conn, nil
}

func (r *pgConnections) ListEnabled(ctx context.Context) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE enabled ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *pgConnections) UpdateCursor(ctx context.Context, id, cursor string, polledAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE connections SET cursor = $1, last_polled_at = $2, updated_at = now() WHERE id = $3`,
		cursor, polledAt, id,
	)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *pgConnections) UpdateHealth(ctx context.Context, id string, health models.ConnectionHealth) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE connections SET health = $1, updated_at = now() WHERE id = $2`,
		health, id,
	)
	if err != nil {
		return fmt.Errorf("update health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanConnection(row pgx.Row) (*models.Connection, error) {
	conn := &models.Connection{}
	var provider, health string
	err := row.Scan(
		&conn.ID, &conn.Name, &provider, &conn.ProjectID, &conn.Endpoint,
		&conn.CredentialRef, &conn.Query, &conn.Cursor, &health,
		&conn.LastPolledAt, &conn.Enabled, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	conn.Provider = models.Provider(provider)
	conn.Health = models.ConnectionHealth(health)
	return conn, nil
}

type pgMembers struct {
	pool *pgxpool.Pool
}

func (r *pgMembers) MaySubscribe(ctx context.Context, userID, projectID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (r *pgMembers) Grant(ctx context.Context, userID, projectID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}
	return nil
}
