// Package connector pulls normalized log entries from external providers.
//
// Each provider variant maps its native event shape into the canonical
// LogEntry fields and exposes the same narrow capability surface, so the
// scheduler never depends on concrete provider types.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

// ErrAuth indicates the provider rejected our credentials. The scheduler
// marks the connection auth_failed and pauses polling; auth errors are
// never retried automatically.
var ErrAuth = errors.New("authentication failed")

// TransientError wraps a failure worth retrying within the current poll
// cycle (network errors, rate limits, provider 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable within the current cycle.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FetchResult is the outcome of a single FetchLogs call.
type FetchResult struct {
	// Entries are new log entries in provider fetch order. Each carries
	// the provider event ID used for idempotent insertion.
	Entries []*models.LogEntry

	// Cursor is the advanced pagination position. Equal to the input
	// cursor when no new entries were returned.
	Cursor string
}

// Connector is the capability surface of a single log source.
type Connector interface {
	// Provider returns the provider identity of the connector.
	Provider() models.Provider

	// TestConnection verifies the provider is reachable with the
	// configured credentials.
	TestConnection(ctx context.Context) error

	// FetchLogs returns entries newer than the given cursor, bounded by
	// the connector's page size and look-back window.
	FetchLogs(ctx context.Context, cursor string) (*FetchResult, error)
}

// Options bound every connector's fetch calls.
type Options struct {
	// PageSize caps entries per FetchLogs call.
	PageSize int

	// LookBack caps how far back the first fetch of a fresh connection
	// reaches.
	LookBack time.Duration

	// Timeout is the per-call HTTP timeout.
	Timeout time.Duration
}

// DefaultOptions returns bounded defaults.
func DefaultOptions() Options {
	return Options{
		PageSize: 500,
		LookBack: time.Hour,
		Timeout:  30 * time.Second,
	}
}

func (o *Options) setDefaults() {
	def := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = def.PageSize
	}
	if o.LookBack <= 0 {
		o.LookBack = def.LookBack
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
}

// New builds the connector variant for a connection. The credential is the
// resolved secret behind the connection's credential reference.
func New(conn *models.Connection, credential string, opts Options) (Connector, error) {
	opts.setDefaults()
	switch conn.Provider {
	case models.ProviderLoki:
		return NewLoki(conn, credential, opts), nil
	case models.ProviderElasticsearch:
		return NewElasticsearch(conn, credential, opts), nil
	case models.ProviderDatadog:
		return NewDatadog(conn, credential, opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", conn.Provider)
	}
}

// classifyStatus maps a provider HTTP status to the connector error
// taxonomy. 2xx maps to nil.
func classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: provider returned %d", ErrAuth, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient(fmt.Errorf("provider returned %d: %s", status, truncate(body, 200)))
	default:
		return fmt.Errorf("provider returned %d: %s", status, truncate(body, 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sortEntriesByTime orders entries by provider timestamp ascending so a
// single connection's entries preserve fetch order.
func sortEntriesByTime(entries []*models.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
