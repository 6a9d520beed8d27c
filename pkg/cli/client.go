package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIError carries the HTTP status and message of a failed API call.
type APIError struct {
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// Client is a thin JSON client for the tableforge API.
type Client struct {
	host string
	http *http.Client
}

// NewClient creates a Client for the given host URL.
func NewClient(host string) *Client {
	return &Client{host: host, http: &http.Client{Timeout: 5 * time.Minute}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return &APIError{HTTPStatus: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CommandResult is the envelope returned by execute, undo, and redo.
type CommandResult struct {
	Success      bool           `json:"success"`
	CommandID    string         `json:"command_id,omitempty"`
	Execution    map[string]any `json:"execution,omitempty"`
	DiffViewName string         `json:"diff_view_name,omitempty"`
}

// ExecuteCommand runs one command against a table.
func (c *Client) ExecuteCommand(ctx context.Context, table, cmdType, label string, params map[string]any) (*CommandResult, error) {
	body := map[string]any{"type": cmdType, "params": params}
	if label != "" {
		body["label"] = label
	}
	var out CommandResult
	if err := c.do(ctx, http.MethodPost, "/v1/tables/"+table+"/commands", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Undo reverses the table's most recent command.
func (c *Client) Undo(ctx context.Context, table string) (*CommandResult, error) {
	var out CommandResult
	if err := c.do(ctx, http.MethodPost, "/v1/tables/"+table+"/undo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Redo re-applies the table's most recently undone command.
func (c *Client) Redo(ctx context.Context, table string) (*CommandResult, error) {
	var out CommandResult
	if err := c.do(ctx, http.MethodPost, "/v1/tables/"+table+"/redo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TimelineRecord is one entry of a table's timeline.
type TimelineRecord struct {
	ID           string `json:"id"`
	CommandType  string `json:"command_type"`
	Label        string `json:"label"`
	Tier         int    `json:"tier"`
	UndoDisabled bool   `json:"undo_disabled"`
	ExecutedAt   string `json:"executed_at"`
}

// TimelineResult is a table's timeline plus the undo pointer position.
type TimelineResult struct {
	Records  []TimelineRecord `json:"records"`
	Position int              `json:"position"`
}

// Timeline fetches a table's command timeline.
func (c *Client) Timeline(ctx context.Context, table string) (*TimelineResult, error) {
	var out TimelineResult
	if err := c.do(ctx, http.MethodGet, "/v1/tables/"+table+"/timeline", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryEntry is one persisted audit record.
type HistoryEntry struct {
	ID          string `json:"id"`
	CommandID   string `json:"command_id"`
	CommandType string `json:"command_type"`
	Label       string `json:"label"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ExecutedAt  int64  `json:"executed_at"`
}

// History fetches a table's audit trail, newest first.
func (c *Client) History(ctx context.Context, table string, limit int) ([]HistoryEntry, error) {
	path := "/v1/tables/" + table + "/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out struct {
		Entries []HistoryEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// CommandTypes lists the command types the server can build.
func (c *Client) CommandTypes(ctx context.Context) ([]string, error) {
	var out struct {
		Types []string `json:"types"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/commands", nil, &out); err != nil {
		return nil, err
	}
	return out.Types, nil
}
