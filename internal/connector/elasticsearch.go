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
	"time"

	"github.com/ashen-peak/logtide/internal/models"
)

// Elasticsearch pulls log entries through the _search API using
// search_after pagination. The cursor is the JSON-encoded sort key of
// the last seen document, which is monotonic under the fixed
// [@timestamp, _id] sort.
type Elasticsearch struct {
	conn   *models.Connection
	apiKey string
	opts   Options
	client *http.Client
}

// NewElasticsearch creates an Elasticsearch connector. The credential is
// a base64 API key sent as an ApiKey authorization header.
func NewElasticsearch(conn *models.Connection, credential string, opts Options) *Elasticsearch {
	return &Elasticsearch{
		conn:   conn,
		apiKey: credential,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Provider returns the provider identity.
func (e *Elasticsearch) Provider() models.Provider { return models.ProviderElasticsearch }

// TestConnection requests the cluster root document.
func (e *Elasticsearch) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.conn.Endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("elasticsearch ping: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyStatus(resp.StatusCode, string(body))
}

type esHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
	Sort   []any           `json:"sort"`
}

type esResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esSource struct {
	Timestamp time.Time         `json:"@timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Service   string            `json:"service"`
	Host      string            `json:"host"`
	Labels    map[string]string `json:"labels"`
}

// FetchLogs pages forward from the cursor's sort key.
func (e *Elasticsearch) FetchLogs(ctx context.Context, cursor string) (*FetchResult, error) {
	index := e.conn.Query
	if index == "" {
		index = "logs-*"
	}

	u, err := url.Parse(e.conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, index, "_search")

	body := map[string]any{
		"size": e.opts.PageSize,
		"sort": []any{
			map[string]any{"@timestamp": "asc"},
			map[string]any{"_id": "asc"},
		},
		"query": map[string]any{
			"range": map[string]any{
				"@timestamp": map[string]any{
					"gte": time.Now().UTC().Add(-e.opts.LookBack).Format(time.RFC3339Nano),
				},
			},
		},
	}
	if cursor != "" {
		var searchAfter []any
		if err := json.Unmarshal([]byte(cursor), &searchAfter); err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		body["search_after"] = searchAfter
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("elasticsearch search: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("read response: %w", err))
	}
	if err := classifyStatus(resp.StatusCode, string(respBody)); err != nil {
		return nil, err
	}

	var esResp esResponse
	if err := json.Unmarshal(respBody, &esResp); err != nil {
		return nil, fmt.Errorf("decode elasticsearch response: %w", err)
	}

	result := &FetchResult{Cursor: cursor}
	for _, hit := range esResp.Hits.Hits {
		var src esSource
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			continue
		}

		source := src.Service
		if source == "" {
			source = src.Host
		}
		entry := &models.LogEntry{
			ConnectionID: e.conn.ID,
			ProjectID:    e.conn.ProjectID,
			EventID:      hit.ID,
			Timestamp:    src.Timestamp.UTC(),
			Level:        resolveLevel(src.Level, src.Message),
			Message:      src.Message,
			Source:       source,
			Metadata:     src.Labels,
		}
		result.Entries = append(result.Entries, entry)

		if sortKey, err := json.Marshal(hit.Sort); err == nil && len(hit.Sort) > 0 {
			result.Cursor = string(sortKey)
		}
	}
	return result, nil
}

func (e *Elasticsearch) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+e.apiKey)
	}
}
