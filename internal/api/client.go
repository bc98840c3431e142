// Package api is the client for the Impostr backend's JSON request layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNetwork is returned when the backend could not be reached
var ErrNetwork = errors.New("network error, please check your connection")

// Client is an HTTP client for the backend API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client. A nil httpClient gets a client with a
// 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Error is a non-2xx response from the API
type Error struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *Error) Error() string {
	return e.Message
}

// errorBody is the error envelope, {message|error, statusCode}. Validation
// failures carry message as a list of strings.
type errorBody struct {
	Message    json.RawMessage `json:"message"`
	Error      string          `json:"error"`
	StatusCode int             `json:"statusCode"`
}

func (b errorBody) text() string {
	if len(b.Message) > 0 {
		var single string
		if err := json.Unmarshal(b.Message, &single); err == nil && single != "" {
			return single
		}
		var list []string
		if err := json.Unmarshal(b.Message, &list); err == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return b.Error
}

// Do performs an HTTP request. A non-empty token is sent as a bearer token.
func (c *Client) Do(ctx context.Context, method, path, token string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}

	// Check for error responses
	if resp.StatusCode >= 400 {
		apiErr := &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Body:       respBody,
		}
		var errBody errorBody
		if err := json.Unmarshal(respBody, &errBody); err == nil {
			if msg := errBody.text(); msg != "" {
				apiErr.Message = msg
			}
		}
		return apiErr
	}

	// Parse successful response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path, token string, result any) error {
	return c.Do(ctx, http.MethodGet, path, token, nil, result)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path, token string, body, result any) error {
	return c.Do(ctx, http.MethodPost, path, token, body, result)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
