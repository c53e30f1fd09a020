// Package remote wraps the remote task table's row operations in
// engine-level calls with an unambiguous error taxonomy.
//
// The remote store is a row-oriented REST API (PostgREST-style): one
// "tasks" table with server-assigned integer ids and a server-refreshed
// updated_at column. The gateway is stateless; every call translates one
// local operation into one request.
//
// Two failure classes must never be conflated:
//
//   - transport/call failures: the request itself errored or the server
//     answered with a non-success status. Reported as ordinary errors.
//   - blocked writes: the call succeeded but affected zero rows, which
//     the row-level permission policy produces instead of an error.
//     Reported as ErrBlocked so callers can branch with errors.Is.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/taskwire/taskwire/internal/task"
)

// ErrBlocked indicates a write that completed without transport error but
// affected zero rows. The usual cause is a row-level permission policy or
// a stale remote id; treating it as success would silently lose the write.
var ErrBlocked = errors.New("remote write affected zero rows (permission policy or missing row)")

// Gateway issues row operations against the remote task table.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config holds gateway configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://example.supabase.co/rest/v1
	BaseURL string

	// APIKey is sent as both the apikey header and a bearer token.
	// Empty disables auth headers.
	APIKey string

	// Client is the HTTP client to use. Nil means http.DefaultClient.
	// Timeouts are the client's responsibility; the gateway imposes none.
	Client *http.Client
}

// New creates a Gateway for the remote task table.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
	}, nil
}

// writePayload is the only shape the remote table accepts for writes: no
// client-chosen id, no client timestamp.
type writePayload struct {
	Title     string `json:"title"`
	Completed bool   `json:"is_completed"`
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Ask the server to echo affected rows back; an empty result set is
	// how blocked writes are detected.
	req.Header.Set("Prefer", "return=representation")
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	return req, nil
}

// do executes the request and decodes the returned row set.
func (g *Gateway) do(req *http.Request) ([]task.RemoteRow, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: server returned %s: %s",
			req.Method, req.URL.Path, resp.Status, truncate(body, 200))
	}

	if len(body) == 0 {
		return nil, nil
	}

	var rows []task.RemoteRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%s %s: malformed response: %w", req.Method, req.URL.Path, err)
	}
	return rows, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Pull returns all remote rows ordered by updated_at descending. The full
// set is fetched each time; the table has no pagination.
func (g *Gateway) Pull(ctx context.Context) ([]task.RemoteRow, error) {
	req, err := g.newRequest(ctx, http.MethodGet,
		"/tasks?select=id,title,is_completed,updated_at&order=updated_at.desc", nil)
	if err != nil {
		return nil, err
	}
	rows, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	if rows == nil {
		rows = []task.RemoteRow{}
	}
	return rows, nil
}

// Insert creates a remote row for the task, sending only the fields the
// remote table knows about. Returns the server-assigned row.
func (g *Gateway) Insert(ctx context.Context, t task.Task) (task.RemoteRow, error) {
	payload, err := json.Marshal([]writePayload{{Title: t.Title, Completed: t.Completed}})
	if err != nil {
		return task.RemoteRow{}, fmt.Errorf("insert failed: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/tasks?select=id,updated_at", bytes.NewReader(payload))
	if err != nil {
		return task.RemoteRow{}, err
	}

	rows, err := g.do(req)
	if err != nil {
		return task.RemoteRow{}, fmt.Errorf("insert failed: %w", err)
	}
	if len(rows) == 0 {
		return task.RemoteRow{}, fmt.Errorf("insert was not applied: %w", ErrBlocked)
	}
	if rows[0].ID == 0 {
		return task.RemoteRow{}, fmt.Errorf("insert did not return a server-assigned id")
	}
	return rows[0], nil
}

// Update overwrites the remote row's title and completion state. Returns
// the refreshed server row. A remotely-deleted row or a denied write
// yields ErrBlocked, never silent success.
func (g *Gateway) Update(ctx context.Context, remoteID int64, t task.Task) (task.RemoteRow, error) {
	payload, err := json.Marshal(writePayload{Title: t.Title, Completed: t.Completed})
	if err != nil {
		return task.RemoteRow{}, fmt.Errorf("update failed: %w", err)
	}

	path := fmt.Sprintf("/tasks?id=eq.%d&select=id,updated_at", remoteID)
	req, err := g.newRequest(ctx, http.MethodPatch, path, bytes.NewReader(payload))
	if err != nil {
		return task.RemoteRow{}, err
	}

	rows, err := g.do(req)
	if err != nil {
		return task.RemoteRow{}, fmt.Errorf("update of row %d failed: %w", remoteID, err)
	}
	if len(rows) == 0 {
		return task.RemoteRow{}, fmt.Errorf("update of row %d was not applied: %w", remoteID, ErrBlocked)
	}
	return rows[0], nil
}

// Delete removes the remote row. Zero rows removed is a blocked failure.
func (g *Gateway) Delete(ctx context.Context, remoteID int64) error {
	path := fmt.Sprintf("/tasks?id=eq.%d&select=id", remoteID)
	req, err := g.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	rows, err := g.do(req)
	if err != nil {
		return fmt.Errorf("delete of row %d failed: %w", remoteID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("delete of row %d was not applied: %w", remoteID, ErrBlocked)
	}
	return nil
}

// Health reports whether the remote API is reachable. Any HTTP response,
// including an auth rejection, counts as reachable; only transport
// failures do not.
func (g *Gateway) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.baseURL+"/", nil)
	if err != nil {
		return err
	}
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}
