package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

// Loki pulls log entries through the Loki query_range HTTP API.
// The cursor is the timestamp of the last seen entry in nanoseconds.
type Loki struct {
	conn     *models.Connection
	tenantID string
	opts     Options
	client   *http.Client
}

// NewLoki creates a Loki connector. The credential is used as the tenant
// ID (X-Scope-OrgID); empty means single-tenant.
func NewLoki(conn *models.Connection, credential string, opts Options) *Loki {
	return &Loki{
		conn:     conn,
		tenantID: credential,
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

// Provider returns the provider identity.
func (l *Loki) Provider() models.Provider { return models.ProviderLoki }

// TestConnection checks the Loki ready endpoint.
func (l *Loki) TestConnection(ctx context.Context) error {
	u, err := url.Parse(l.conn.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "ready")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if l.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.tenantID)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("loki ready check: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyStatus(resp.StatusCode, string(body))
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []lokiStream `json:"result"`
	} `json:"data"`
}

// FetchLogs queries forward from the cursor timestamp.
func (l *Loki) FetchLogs(ctx context.Context, cursor string) (*FetchResult, error) {
	now := time.Now().UTC()
	start := now.Add(-l.opts.LookBack)
	if cursor != "" {
		nanos, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		// Start one nanosecond past the last seen entry so replays of
		// already-ingested events are excluded at the source.
		start = time.Unix(0, nanos+1)
	}

	u, err := url.Parse(l.conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")

	q := u.Query()
	q.Set("query", l.conn.Query)
	q.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	q.Set("end", strconv.FormatInt(now.UnixNano(), 10))
	q.Set("limit", strconv.Itoa(l.opts.PageSize))
	q.Set("direction", "forward")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if l.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.tenantID)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("loki query: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("read response: %w", err))
	}
	if err := classifyStatus(resp.StatusCode, string(body)); err != nil {
		return nil, err
	}

	var lokiResp lokiResponse
	if err := json.Unmarshal(body, &lokiResp); err != nil {
		return nil, fmt.Errorf("decode loki response: %w", err)
	}
	if lokiResp.Status != "success" {
		return nil, fmt.Errorf("loki query failed: %s", truncate(string(body), 200))
	}

	return l.flatten(lokiResp.Data.Result, cursor), nil
}

// flatten converts Loki streams into canonical entries, preserving
// timestamp order across streams.
func (l *Loki) flatten(streams []lokiStream, cursor string) *FetchResult {
	result := &FetchResult{Cursor: cursor}
	var maxNanos int64

	for _, stream := range streams {
		source := stream.Stream["job"]
		if source == "" {
			source = stream.Stream["service_name"]
		}
		for _, value := range stream.Values {
			if len(value) < 2 {
				continue
			}
			nanos, err := strconv.ParseInt(value[0], 10, 64)
			if err != nil {
				continue
			}
			line := value[1]

			entry := &models.LogEntry{
				ConnectionID: l.conn.ID,
				ProjectID:    l.conn.ProjectID,
				EventID:      lokiEventID(nanos, line),
				Timestamp:    time.Unix(0, nanos).UTC(),
				Level:        resolveLevel(stream.Stream["level"], line),
				Message:      line,
				Source:       source,
				Metadata:     stream.Stream,
			}
			result.Entries = append(result.Entries, entry)

			if nanos > maxNanos {
				maxNanos = nanos
			}
			if len(result.Entries) >= l.opts.PageSize {
				break
			}
		}
	}

	sortEntriesByTime(result.Entries)
	if maxNanos > 0 {
		result.Cursor = strconv.FormatInt(maxNanos, 10)
	}
	return result
}

// lokiEventID derives a stable event ID for a log line. Loki has no
// native event identifier, so the timestamp plus a line hash stands in.
func lokiEventID(nanos int64, line string) string {
	h := fnv.New64a()
	h.Write([]byte(line))
	return fmt.Sprintf("%d-%016x", nanos, h.Sum64())
}
