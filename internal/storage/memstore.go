package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashen-peak/logtide/internal/models"
)

// MemStore is an in-memory Store. It backs single-process embedded mode
// and unit tests; the claim semantics match the SQL implementations.
type MemStore struct {
	mu          sync.Mutex
	connections map[string]*models.Connection
	entries     map[string]*models.LogEntry
	entryKeys   map[string]bool // connection_id + "\x00" + event_id
	alerts      map[string]*models.Alert
	dedupKeys   map[string]bool
	members     map[string]bool // project_id + "\x00" + user_id
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		connections: make(map[string]*models.Connection),
		entries:     make(map[string]*models.LogEntry),
		entryKeys:   make(map[string]bool),
		alerts:      make(map[string]*models.Alert),
		dedupKeys:   make(map[string]bool),
		members:     make(map[string]bool),
	}
}

// Connections returns the connection repository.
func (s *MemStore) Connections() ConnectionRepository { return (*memConnections)(s) }

// Logs returns the log entry repository.
func (s *MemStore) Logs() LogRepository { return (*memLogs)(s) }

// Alerts returns the alert repository.
func (s *MemStore) Alerts() AlertRepository { return (*memAlerts)(s) }

// Memberships returns the membership repository.
func (s *MemStore) Memberships() MembershipRepository { return (*memMembers)(s) }

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }

type memConnections MemStore

func (r *memConnections) Create(_ context.Context, conn *models.Connection) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	cp := *conn
	s.connections[conn.ID] = &cp
	return nil
}

func (r *memConnections) GetByID(_ context.Context, id string) (*models.Connection, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	cp := *conn
	return &cp, nil
}

func (r *memConnections) ListEnabled(_ context.Context) ([]*models.Connection, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var conns []*models.Connection
	for _, conn := range s.connections {
		if conn.Enabled {
			cp := *conn
			conns = append(conns, &cp)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Name < conns[j].Name })
	return conns, nil
}

func (r *memConnections) UpdateCursor(_ context.Context, id, cursor string, polledAt time.Time) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	conn.Cursor = cursor
	conn.LastPolledAt = &polledAt
	conn.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memConnections) UpdateHealth(_ context.Context, id string, health models.ConnectionHealth) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	conn.Health = health
	conn.UpdatedAt = time.Now().UTC()
	return nil
}

type memLogs MemStore

func (r *memLogs) InsertBatch(_ context.Context, entries []*models.LogEntry) ([]*models.LogEntry, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []*models.LogEntry
	for _, entry := range entries {
		key := entry.ConnectionID + "\x00" + entry.EventID
		if s.entryKeys[key] {
			continue
		}
		cp := *entry
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		entry.ID = cp.ID
		s.entries[cp.ID] = &cp
		s.entryKeys[key] = true
		inserted = append(inserted, entry)
	}
	return inserted, nil
}

func (r *memLogs) ClaimAndAnalyze(_ context.Context, limit int, analyze AnalyzeFunc) ([]*models.LogEntry, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*models.LogEntry
	for _, entry := range s.entries {
		if !entry.Analyzed {
			claimed = append(claimed, entry)
		}
	}
	// Newest first, matching the SQL implementations.
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.After(claimed[j].CreatedAt)
	})
	if limit > 0 && len(claimed) > limit {
		claimed = claimed[:limit]
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	analyze(claimed)
	for _, entry := range claimed {
		entry.Analyzed = true
	}

	out := make([]*models.LogEntry, len(claimed))
	for i, entry := range claimed {
		cp := *entry
		out[i] = &cp
	}
	return out, nil
}

func (r *memLogs) UpdateSummary(_ context.Context, id, summary string) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("log entry %s: %w", id, ErrNotFound)
	}
	entry.AISummary = summary
	return nil
}

func (r *memLogs) CountUnanalyzed(_ context.Context) (int64, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, entry := range s.entries {
		if !entry.Analyzed {
			n++
		}
	}
	return n, nil
}

type memAlerts MemStore

func (r *memAlerts) Create(_ context.Context, alert *models.Alert) (bool, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedupKeys[alert.DedupKey] {
		return false, nil
	}
	cp := *alert
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	alert.ID = cp.ID
	s.alerts[cp.ID] = &cp
	s.dedupKeys[cp.DedupKey] = true
	return true, nil
}

func (r *memAlerts) ListByProject(_ context.Context, projectID string, limit int) ([]*models.Alert, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var alerts []*models.Alert
	for _, alert := range s.alerts {
		if alert.ProjectID == projectID {
			cp := *alert
			alerts = append(alerts, &cp)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

type memMembers MemStore

func (r *memMembers) MaySubscribe(_ context.Context, userID, projectID string) (bool, error) {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[projectID+"\x00"+userID], nil
}

func (r *memMembers) Grant(_ context.Context, userID, projectID string) error {
	s := (*MemStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[projectID+"\x00"+userID] = true
	return nil
}
