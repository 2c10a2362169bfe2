package fieldworksdk

import (
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
)

// Client is a minimal Fieldwork HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. Servers only
	// accept it in development mode.
	ActorID    int64
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Template represents the API template model (partial).
type Template struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Input represents one input instance.
type Input struct {
	ID              int64          `json:"id"`
	InputTemplateID int64          `json:"input_template_id"`
	Value           map[string]any `json:"value"`
	IsComplete      bool           `json:"is_complete"`
	Version         int64          `json:"version"`
	Checkboxes      []struct {
		ID                 int64 `json:"id"`
		CheckboxTemplateID int64 `json:"checkbox_template_id"`
		IsChecked          bool  `json:"is_checked"`
	} `json:"checkbox_instances,omitempty"`
}

type Field struct {
	ID              int64   `json:"id"`
	FieldTemplateID int64   `json:"field_template_id"`
	IsComplete      bool    `json:"is_complete"`
	Inputs          []Input `json:"input_instances"`
}

type Fn struct {
	ID             int64   `json:"id"`
	FnTemplateID   int64   `json:"fn_template_id"`
	DropdownItemID *int64  `json:"dropdown_item_id,omitempty"`
	IsLocked       bool    `json:"is_locked"`
	IsComplete     bool    `json:"is_complete"`
	Fields         []Field `json:"field_instances"`
}

// Task represents the API task model.
type Task struct {
	ID             int64   `json:"id"`
	TaskTemplateID int64   `json:"task_template_id"`
	Code           string  `json:"code"`
	Status         string  `json:"status"`
	Priority       string  `json:"priority"`
	Progress       int     `json:"progress"`
	Version        int64   `json:"version"`
	Fns            []Fn    `json:"fn_instances"`
	Metadata       []Input `json:"metadata_instances,omitempty"`
}

// Effect is one applied conditional action.
type Effect struct {
	Kind           string  `json:"kind"`
	ActionID       int64   `json:"conditional_action_id"`
	Level          string  `json:"level"`
	TargetKind     string  `json:"target_kind"`
	TargetID       int64   `json:"target_id"`
	UserIDs        []int64 `json:"user_ids,omitempty"`
	Message        string  `json:"message,omitempty"`
	CreatedInputID int64   `json:"created_input_id,omitempty"`
	Reused         bool    `json:"reused,omitempty"`
}

// Mutation is returned by every task change.
type Mutation struct {
	Task     Task     `json:"task"`
	Changed  bool     `json:"changed"`
	Effects  []Effect `json:"effects"`
	Failures []string `json:"failures,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      int64          `json:"entity_id"`
	ActorID       int64          `json:"actor_id"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ImportTemplate builds a template from a YAML definition.
func (c *Client) ImportTemplate(ctx context.Context, definition string) (Template, error) {
	var resp Template
	err := c.do(ctx, http.MethodPost, "templates/import", map[string]any{"definition": definition}, &resp)
	return resp, err
}

// InstantiateOptions are the optional fields of Instantiate.
type InstantiateOptions struct {
	Code       string `json:"code,omitempty"`
	Priority   string `json:"priority,omitempty"`
	CustomerID *int64 `json:"customer_id,omitempty"`
	AssigneeID *int64 `json:"assignee_id,omitempty"`
	Remarks    string `json:"remarks,omitempty"`
}

// Instantiate creates a task from a template.
func (c *Client) Instantiate(ctx context.Context, templateID int64, opts InstantiateOptions) (Task, error) {
	body := struct {
		TemplateID int64 `json:"task_template_id"`
		InstantiateOptions
	}{templateID, opts}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id or code.
func (c *Client) GetTask(ctx context.Context, ref string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(ref), nil, &resp)
	return resp, err
}

// SetInputValue writes an input value. expectedVersion zero skips the
// concurrency check.
func (c *Client) SetInputValue(ctx context.Context, taskID, inputID int64, value string, expectedVersion int64) (Mutation, error) {
	body := map[string]any{"value": value}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Mutation
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d/inputs/%d/value", taskID, inputID), body, &resp)
	return resp, err
}

// ToggleCheckbox checks or unchecks a checkbox option.
func (c *Client) ToggleCheckbox(ctx context.Context, taskID, checkboxID int64, checked bool) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d/checkboxes/%d", taskID, checkboxID), map[string]any{"checked": checked}, &resp)
	return resp, err
}

// SelectBranch picks the branch of a function.
func (c *Client) SelectBranch(ctx context.Context, taskID, fnID, itemID int64) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d/fns/%d/branch", taskID, fnID), map[string]any{"item_id": itemID}, &resp)
	return resp, err
}

// SetStatus changes the task status.
func (c *Client) SetStatus(ctx context.Context, taskID int64, status, remarks string) (Mutation, error) {
	body := map[string]any{"status": status}
	if remarks != "" {
		body["remarks"] = remarks
	}
	var resp Mutation
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d/status", taskID), body, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, optionally narrowed to one
// event type.
func (c *Client) EventsPage(ctx context.Context, eventType string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID > 0:
		req.Header.Set("X-Actor-Id", strconv.FormatInt(c.ActorID, 10))
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
