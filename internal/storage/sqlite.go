package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. It is the
// single-process backend: the claim step relies on SQLite's single-writer
// transaction model, and it pairs with the in-process bus.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore creates a SQLite store for the given database path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Open initializes the database connection and applies the schema.
func (s *SQLiteStore) Open() error {
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	s.db = db
	return nil
}

// Connections returns the connection repository.
func (s *SQLiteStore) Connections() ConnectionRepository { return &sqliteConnections{db: s.db} }

// Logs returns the log entry repository.
func (s *SQLiteStore) Logs() LogRepository { return &sqliteLogs{db: s.db} }

// Alerts returns the alert repository.
func (s *SQLiteStore) Alerts() AlertRepository { return &sqliteAlerts{db: s.db} }

// Memberships returns the membership repository.
func (s *SQLiteStore) Memberships() MembershipRepository { return &sqliteMembers{db: s.db} }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	provider       TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	endpoint       TEXT NOT NULL DEFAULT '',
	credential_ref TEXT NOT NULL DEFAULT '',
	query          TEXT NOT NULL DEFAULT '',
	cursor         TEXT NOT NULL DEFAULT '',
	health         TEXT NOT NULL DEFAULT 'unknown',
	last_polled_at TIMESTAMP,
	enabled        INTEGER NOT NULL DEFAULT 1,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS log_entries (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	project_id    TEXT NOT NULL,
	event_id      TEXT NOT NULL,
	ts            TIMESTAMP NOT NULL,
	level         TEXT NOT NULL,
	message       TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	metadata      TEXT,
	analyzed      INTEGER NOT NULL DEFAULT 0,
	is_error      INTEGER NOT NULL DEFAULT 0,
	is_anomaly    INTEGER NOT NULL DEFAULT 0,
	ai_summary    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	UNIQUE (connection_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_log_entries_unanalyzed ON log_entries (analyzed, created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	type          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	dedup_key     TEXT NOT NULL UNIQUE,
	log_entry_id  TEXT,
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_project ON alerts (project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS project_members (
	project_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	PRIMARY KEY (project_id, user_id)
);
`
