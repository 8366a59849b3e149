package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldtrack/internal/core"
)

// ActorHeader carries the id of the user performing the request.
const ActorHeader = "X-Actor-ID"

// Client talks to the fieldtrack HTTP API on behalf of one user.
type Client struct {
	baseURL string
	token   string
	actorID string
	client  *http.Client
}

// New creates a client. baseURL is the server root, without /v1.
func New(baseURL, token, actorID string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("server url is empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		actorID: actorID,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// LocationInput is one sample to submit.
type LocationInput struct {
	AssignmentID   string     `json:"assignment_id"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Accuracy       *float64   `json:"accuracy,omitempty"`
	Address        *string    `json:"address,omitempty"`
	TrackingStatus string     `json:"tracking_status,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
}

// Location is a stored sample as returned by the server.
type Location struct {
	ID             string    `json:"id"`
	AssignmentID   string    `json:"assignment_id"`
	UserID         string    `json:"user_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Accuracy       *float64  `json:"accuracy"`
	Address        *string   `json:"address"`
	TrackingStatus string    `json:"tracking_status"`
	RecordedAt     time.Time `json:"recorded_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// BatchItemError reports one rejected batch item.
type BatchItemError struct {
	Index  int    `json:"index"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BatchResult is the server's answer to a batch submission.
type BatchResult struct {
	Status       string           `json:"status"`
	CreatedCount int              `json:"created_count"`
	ErrorCount   int              `json:"error_count"`
	Errors       []BatchItemError `json:"errors"`
	Locations    []Location       `json:"locations"`
}

// Assignment is the subset of an assignment the device needs.
type Assignment struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	UserIDs        []string   `json:"user_ids"`
	Date           string     `json:"date"`
	StartTime      *time.Time `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	Status         string     `json:"status"`
	ComputedStatus string     `json:"computed_status"`
}

// RecordLocation submits a single sample.
func (c *Client) RecordLocation(ctx context.Context, in LocationInput) (*Location, error) {
	var out Location
	if err := c.do(ctx, http.MethodPost, "/v1/locations", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordBatch submits up to core.MaxBatchSize samples. A batch where every
// item failed still returns its result alongside an *APIError.
func (c *Client) RecordBatch(ctx context.Context, items []LocationInput) (*BatchResult, error) {
	status, data, err := c.send(ctx, http.MethodPost, "/v1/locations/batch", map[string]any{"locations": items})
	if err != nil {
		return nil, err
	}
	// 422 carries the batch body as well as signalling that nothing was stored.
	if status == http.StatusUnprocessableEntity {
		var out BatchResult
		if err := json.Unmarshal(data, &out); err != nil || out.Status == "" {
			return nil, decodeAPIError(status, data)
		}
		return &out, &APIError{Status: status, Code: "batch_failed", Message: "no location in the batch was stored"}
	}
	if status >= 400 {
		return nil, decodeAPIError(status, data)
	}
	var out BatchResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// GetAssignment loads one assignment.
func (c *Client) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	var out Assignment
	if err := c.do(ctx, http.MethodGet, "/v1/assignments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	status, data, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status >= 400 {
		return decodeAPIError(status, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send performs the request and returns the raw status and body.
func (c *Client) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actorID != "" {
		req.Header.Set(ActorHeader, c.actorID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets errors.Is(err, core.ErrNotTrackable) and friends match server codes.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*core.Error)
	if !ok {
		return false
	}
	return t.Message == "" && string(t.Kind) == e.Code
}

func decodeAPIError(status int, data []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{Status: status, Code: http.StatusText(status), Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
}
