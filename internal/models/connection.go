package models

import (
	"time"
)

// Provider identifies the external log source backing a connection.
type Provider string

const (
	ProviderLoki          Provider = "loki"
	ProviderElasticsearch Provider = "elasticsearch"
	ProviderDatadog       Provider = "datadog"
)

// ConnectionHealth represents the polling health of a connection.
type ConnectionHealth string

const (
	HealthUnknown    ConnectionHealth = "unknown"
	HealthHealthy    ConnectionHealth = "healthy"
	HealthDegraded   ConnectionHealth = "degraded"
	HealthAuthFailed ConnectionHealth = "auth_failed"
)

// Connection represents a configured external log source.
// Connections are created by an external owner action; the ingestion
// scheduler only mutates the cursor and health fields.
type Connection struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Provider  Provider `json:"provider"`
	ProjectID string   `json:"project_id"`

	// Endpoint is the provider API base URL.
	Endpoint string `json:"endpoint,omitempty"`

	// CredentialRef is an opaque reference resolved by the credential
	// store; the raw secret never lives on this struct.
	CredentialRef string `json:"credential_ref,omitempty"`

	// Query narrows what the connector fetches (LogQL selector, ES index,
	// Datadog query string).
	Query string `json:"query,omitempty"`

	// Cursor is the opaque pagination position persisted after each
	// successful fetch. Monotonic per connection.
	Cursor string `json:"cursor,omitempty"`

	Health        ConnectionHealth `json:"health"`
	LastPolledAt  *time.Time       `json:"last_polled_at,omitempty"`
	Enabled       bool             `json:"enabled"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewConnection creates a Connection with initialized timestamps.
func NewConnection(name string, provider Provider, projectID string) *Connection {
	now := time.Now().UTC()
	return &Connection{
		Name:      name,
		Provider:  provider,
		ProjectID: projectID,
		Health:    HealthUnknown,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ParseProvider converts a string to Provider.
func ParseProvider(s string) Provider {
	switch s {
	case "loki":
		return ProviderLoki
	case "elasticsearch", "es":
		return ProviderElasticsearch
	case "datadog":
		return ProviderDatadog
	default:
		return ProviderLoki
	}
}

// ParseConnectionHealth converts a string to ConnectionHealth.
func ParseConnectionHealth(s string) ConnectionHealth {
	switch s {
	case "healthy":
		return HealthHealthy
	case "degraded":
		return HealthDegraded
	case "auth_failed":
		return HealthAuthFailed
	default:
		return HealthUnknown
	}
}
