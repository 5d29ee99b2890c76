package reviewflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Reviewflow HTTP API client.
type Client struct {
	BaseURL  string
	BasePath string
	// BearerToken takes precedence over ActorID.
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Item is a reviewable item.
type Item struct {
	ID               string            `json:"id"`
	ModuleType       string            `json:"module_type"`
	ModuleID         string            `json:"module_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	Priority         string            `json:"priority"`
	Status           string            `json:"status"`
	Assignees        []string          `json:"assignees"`
	DueDate          *string           `json:"due_date,omitempty"`
	Feedback         string            `json:"feedback,omitempty"`
	Revision         int64             `json:"revision"`
	CreatedBy        string            `json:"created_by"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	ExpertFeedback   string            `json:"expert_feedback,omitempty"`
	CompletedAt      *string           `json:"completed_at,omitempty"`
}

type ValidationResult struct {
	Outcome         string   `json:"outcome"`
	IsValid         bool     `json:"is_valid"`
	ConfidenceLevel string   `json:"confidence_level,omitempty"`
	Issues          []string `json:"issues,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
}

type SubmitRequest struct {
	ModuleType  string `json:"module_type"`
	ModuleID    string `json:"module_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

type Settings struct {
	Enabled             bool     `json:"enabled"`
	StrategyType        string   `json:"strategy_type"`
	EligibleRoles       []string `json:"eligible_roles"`
	EligibleDepartments []string `json:"eligible_departments"`
	Version             int64    `json:"version,omitempty"`
	UpdatedBy           string   `json:"updated_by,omitempty"`
	UpdatedAt           string   `json:"updated_at,omitempty"`
}

type Reviewer struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"display_name"`
	Role                string `json:"role"`
	Department          string `json:"department"`
	OpenAssignmentCount int    `json:"open_assignment_count"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	ItemID    string         `json:"item_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	OldStatus string         `json:"old_status,omitempty"`
	NewStatus string         `json:"new_status,omitempty"`
	Assignees []string       `json:"assignees"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the API error code of err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// ExistingItemID returns the id of the open item a rejected submission
// collided with.
func ExistingItemID(err error) (string, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "duplicate_pending_item" {
		return "", false
	}
	id, ok := apiErr.Details["existing_item_id"].(string)
	return id, ok
}

type PaginatedItems struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Submit creates a pending item.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, "items", req, &resp)
	return resp, err
}

// Exists reports whether the module has a non-terminal item.
func (c *Client) Exists(ctx context.Context, moduleType, moduleID string) (bool, string, error) {
	q := url.Values{}
	q.Set("module_type", moduleType)
	q.Set("module_id", moduleID)
	var resp struct {
		Exists bool   `json:"exists"`
		ItemID string `json:"item_id"`
	}
	err := c.do(ctx, http.MethodGet, "items/exists?"+q.Encode(), nil, &resp)
	return resp.Exists, resp.ItemID, err
}

func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, "items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListItems returns one page of items, newest first.
func (c *Client) ListItems(ctx context.Context, status string, limit int, cursor string) (PaginatedItems, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedItems
	err := c.do(ctx, http.MethodGet, withQuery("items", q), nil, &resp)
	return resp, err
}

// Assign sets explicit reviewers on a pending item.
func (c *Client) Assign(ctx context.Context, itemID string, reviewerIDs []string, note string) (Item, error) {
	if reviewerIDs == nil {
		reviewerIDs = []string{}
	}
	body := map[string]any{"reviewer_ids": reviewerIDs}
	if note != "" {
		body["note"] = note
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, "items/"+url.PathEscape(itemID)+"/assign", body, &resp)
	return resp, err
}

// AutoAssign runs the configured strategy.
func (c *Client) AutoAssign(ctx context.Context, itemID string, force bool) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, "items/"+url.PathEscape(itemID)+"/auto-assign", map[string]any{"force_assign": force}, &resp)
	return resp, err
}

// UpdateStatus applies a review transition. expectedRevision 0 skips the check.
func (c *Client) UpdateStatus(ctx context.Context, itemID, status string, feedback *string, expectedRevision int64) (Item, error) {
	body := map[string]any{"status": status}
	if feedback != nil {
		body["feedback"] = *feedback
	}
	if expectedRevision > 0 {
		body["expected_revision"] = expectedRevision
	}
	var resp Item
	err := c.do(ctx, http.MethodPatch, "items/"+url.PathEscape(itemID)+"/status", body, &resp)
	return resp, err
}

func (c *Client) RequestExpertReview(ctx context.Context, moduleID, title, text, reqContext string) (Item, error) {
	body := map[string]any{"module_id": moduleID, "title": title, "text": text}
	if reqContext != "" {
		body["context"] = reqContext
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, "expert-reviews", body, &resp)
	return resp, err
}

func (c *Client) CompleteExpertReview(ctx context.Context, itemID, feedback string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, "expert-reviews/"+url.PathEscape(itemID)+"/complete", map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var resp Settings
	err := c.do(ctx, http.MethodGet, "settings/auto-assignment", nil, &resp)
	return resp, err
}

// UpdateSettings replaces the settings. expectedVersion 0 skips the check.
func (c *Client) UpdateSettings(ctx context.Context, s Settings, expectedVersion int64) (Settings, error) {
	body := map[string]any{
		"enabled":       s.Enabled,
		"strategy_type": s.StrategyType,
	}
	if s.EligibleRoles != nil {
		body["eligible_roles"] = s.EligibleRoles
	}
	if s.EligibleDepartments != nil {
		body["eligible_departments"] = s.EligibleDepartments
	}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Settings
	err := c.do(ctx, http.MethodPut, "settings/auto-assignment", body, &resp)
	return resp, err
}

func (c *Client) Reviewers(ctx context.Context) ([]Reviewer, error) {
	var resp []Reviewer
	err := c.do(ctx, http.MethodGet, "reviewers", nil, &resp)
	return resp, err
}

// EventsPage returns events after cursor in id order.
func (c *Client) EventsPage(ctx context.Context, itemID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if itemID != "" {
		q.Set("item_id", itemID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
