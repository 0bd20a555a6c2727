package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
)

// Client talks to the burrow HTTP API
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a client for the API at addr. A bare host:port is
// taken as http.
func NewClient(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid API address %q: %w", addr, err)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) url(query url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a 2xx body into out. Error bodies become
// errors.Error so callers can match them with errors.Is.
func (c *Client) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error errors.Error `json:"error"`
		}
		if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error.Code == "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr.Error
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Submit sends the desired spec for (kind, key). When the spec fails
// validation the stored record is returned together with the error.
func (c *Client) Submit(ctx context.Context, kind types.Kind, key string, spec json.RawMessage) (*types.ResourceRecord, error) {
	var resp struct {
		Record *types.ResourceRecord `json:"record"`
	}
	err := c.do(ctx, http.MethodPost, c.url(nil, "v1", "resources", string(kind), key), spec, &resp)
	return resp.Record, err
}

// Get queries one record
func (c *Client) Get(ctx context.Context, kind types.Kind, key string) (*types.ResourceRecord, error) {
	var rec types.ResourceRecord
	if err := c.do(ctx, http.MethodGet, c.url(nil, "v1", "resources", string(kind), key), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID queries one record by id
func (c *Client) GetByID(ctx context.Context, id string) (*types.ResourceRecord, error) {
	var rec types.ResourceRecord
	if err := c.do(ctx, http.MethodGet, c.url(nil, "v1", "records", id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all records of kind, or every record when kind is empty
func (c *Client) List(ctx context.Context, kind types.Kind) ([]*types.ResourceRecord, error) {
	query := url.Values{}
	if kind != "" {
		query.Set("kind", string(kind))
	}
	var records []*types.ResourceRecord
	if err := c.do(ctx, http.MethodGet, c.url(query, "v1", "resources"), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Delete tombstones (kind, key)
func (c *Client) Delete(ctx context.Context, kind types.Kind, key string) (*types.ResourceRecord, error) {
	var rec types.ResourceRecord
	if err := c.do(ctx, http.MethodDelete, c.url(nil, "v1", "resources", string(kind), key), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Retry re-arms a failed record
func (c *Client) Retry(ctx context.Context, kind types.Kind, key string) (*types.ResourceRecord, error) {
	var rec types.ResourceRecord
	if err := c.do(ctx, http.MethodPost, c.url(nil, "v1", "resources", string(kind), key, "retry"), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func limitQuery(limit int) url.Values {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}

// History returns up to limit attempts for (kind, key), newest first
func (c *Client) History(ctx context.Context, kind types.Kind, key string, limit int) ([]*types.Attempt, error) {
	var attempts []*types.Attempt
	err := c.do(ctx, http.MethodGet, c.url(limitQuery(limit), "v1", "resources", string(kind), key, "history"), nil, &attempts)
	return attempts, err
}

// HistoryByID returns up to limit attempts for a record id
func (c *Client) HistoryByID(ctx context.Context, id string, limit int) ([]*types.Attempt, error) {
	var attempts []*types.Attempt
	err := c.do(ctx, http.MethodGet, c.url(limitQuery(limit), "v1", "records", id, "history"), nil, &attempts)
	return attempts, err
}

// WatchEvents calls fn for every event until ctx is done, the server ends
// the stream or fn returns an error. kind may be empty.
func (c *Client) WatchEvents(ctx context.Context, kind types.Kind, fn func(*events.Event) error) error {
	query := url.Values{}
	if kind != "" {
		query.Set("kind", string(kind))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(query, "v1", "events"), nil)
	if err != nil {
		return err
	}

	// The stream outlives the request timeout of c.http
	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to open event stream: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var event events.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(&event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
