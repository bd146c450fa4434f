package models

import (
	"encoding/json"
	"time"
)

// EventType classifies events on the broadcast bus.
type EventType string

const (
	EventLogEntry         EventType = "log_entry"
	EventAlert            EventType = "alert"
	EventConnectionStatus EventType = "connection_status"
	EventStatsUpdate      EventType = "stats_update"
	EventHeartbeat        EventType = "heartbeat"
)

// StreamEvent is the envelope published on the bus and delivered to
// live viewers. Payload content depends on Type.
type StreamEvent struct {
	Type      EventType       `json:"type"`
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewStreamEvent builds an event envelope, marshaling the payload.
// A payload that fails to marshal is sent as an empty payload rather
// than failing the broadcast path.
func NewStreamEvent(eventType EventType, projectID string, payload any) *StreamEvent {
	ev := &StreamEvent{
		Type:      eventType,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// Droppable reports whether the event may be shed first under
// backpressure. Heartbeats and stats updates carry no durable
// information and are always safe to drop.
func (e *StreamEvent) Droppable() bool {
	return e.Type == EventHeartbeat || e.Type == EventStatsUpdate
}

// ConnectionStatusPayload is the payload for connection_status events.
type ConnectionStatusPayload struct {
	ConnectionID string           `json:"connection_id"`
	Name         string           `json:"name"`
	Health       ConnectionHealth `json:"health"`
	Detail       string           `json:"detail,omitempty"`
}
