package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

// Datadog pulls log entries through the Logs Search API v2. The cursor
// is the opaque page token returned in meta.page.after.
type Datadog struct {
	conn   *models.Connection
	apiKey string
	appKey string
	opts   Options
	client *http.Client
}

// NewDatadog creates a Datadog connector. The credential is
// "apiKey:appKey".
func NewDatadog(conn *models.Connection, credential string, opts Options) *Datadog {
	apiKey, appKey, _ := strings.Cut(credential, ":")
	return &Datadog{
		conn:   conn,
		apiKey: apiKey,
		appKey: appKey,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Provider returns the provider identity.
func (d *Datadog) Provider() models.Provider { return models.ProviderDatadog }

// TestConnection validates the API key.
func (d *Datadog) TestConnection(ctx context.Context) error {
	u, err := url.Parse(d.conn.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/v1/validate")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("datadog validate: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyStatus(resp.StatusCode, string(body))
}

type ddSearchRequest struct {
	Filter ddFilter `json:"filter"`
	Page   ddPage   `json:"page"`
	Sort   string   `json:"sort"`
}

type ddFilter struct {
	Query string `json:"query,omitempty"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type ddPage struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type ddEvent struct {
	ID         string `json:"id"`
	Attributes struct {
		Timestamp  time.Time      `json:"timestamp"`
		Status     string         `json:"status"`
		Message    string         `json:"message"`
		Service    string         `json:"service"`
		Host       string         `json:"host"`
		Tags       []string       `json:"tags"`
		Attributes map[string]any `json:"attributes"`
	} `json:"attributes"`
}

type ddResponse struct {
	Data []ddEvent `json:"data"`
	Meta struct {
		Page struct {
			After string `json:"after"`
		} `json:"page"`
	} `json:"meta"`
}

// FetchLogs pages forward using the provider's after token.
func (d *Datadog) FetchLogs(ctx context.Context, cursor string) (*FetchResult, error) {
	u, err := url.Parse(d.conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/v2/logs/events/search")

	now := time.Now().UTC()
	search := ddSearchRequest{
		Filter: ddFilter{
			Query: d.conn.Query,
			From:  now.Add(-d.opts.LookBack).Format(time.RFC3339),
			To:    now.Format(time.RFC3339),
		},
		Page: ddPage{Limit: d.opts.PageSize, Cursor: cursor},
		Sort: "timestamp",
	}

	payload, err := json.Marshal(search)
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("datadog search: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("read response: %w", err))
	}
	if err := classifyStatus(resp.StatusCode, string(respBody)); err != nil {
		return nil, err
	}

	var ddResp ddResponse
	if err := json.Unmarshal(respBody, &ddResp); err != nil {
		return nil, fmt.Errorf("decode datadog response: %w", err)
	}

	result := &FetchResult{Cursor: cursor}
	for _, event := range ddResp.Data {
		attrs := event.Attributes

		source := attrs.Service
		if source == "" {
			source = attrs.Host
		}
		metadata := make(map[string]string, len(attrs.Tags))
		for _, tag := range attrs.Tags {
			if key, value, ok := strings.Cut(tag, ":"); ok {
				metadata[key] = value
			}
		}

		entry := &models.LogEntry{
			ConnectionID: d.conn.ID,
			ProjectID:    d.conn.ProjectID,
			EventID:      event.ID,
			Timestamp:    attrs.Timestamp.UTC(),
			Level:        resolveLevel(attrs.Status, attrs.Message),
			Message:      attrs.Message,
			Source:       source,
			Metadata:     metadata,
		}
		result.Entries = append(result.Entries, entry)
	}

	if ddResp.Meta.Page.After != "" {
		result.Cursor = ddResp.Meta.Page.After
	}
	return result, nil
}

func (d *Datadog) authorize(req *http.Request) {
	req.Header.Set("DD-API-KEY", d.apiKey)
	if d.appKey != "" {
		req.Header.Set("DD-APPLICATION-KEY", d.appKey)
	}
}
