// Package backend is the HTTP client for the Optiflow backend API.
// It covers the three endpoints the voice agent depends on: Pipedream
// action execution, knowledge-base search, and user presence checks.
// All calls are authenticated with a bearer token configured out of band.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultActionTimeout bounds a single Pipedream action call.
const DefaultActionTimeout = 30 * time.Second

// ConfigError reports a missing credential or base URL. It is returned
// before any network I/O is attempted.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("backend not configured: missing %s", e.Missing)
}

// Client calls the Optiflow backend over HTTP with JSON bodies.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a backend client. baseURL and apiKey may be empty;
// calls on an unconfigured client fail with a ConfigError without
// touching the network.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: DefaultActionTimeout,
		},
	}
}

// NewClientWithHTTP creates a backend client with a custom HTTP client.
func NewClientWithHTTP(baseURL, apiKey string, httpClient *http.Client) *Client {
	c := NewClient(baseURL, apiKey)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// Configured reports whether both base URL and credential are set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

func (c *Client) checkConfigured() error {
	if c == nil || c.baseURL == "" {
		return &ConfigError{Missing: "base URL"}
	}
	if c.apiKey == "" {
		return &ConfigError{Missing: "API key"}
	}
	return nil
}

// ActionRequest is the body for /api/pipedream/execute.
type ActionRequest struct {
	ActionType   string         `json:"action_type"`
	Parameters   map[string]any `json:"parameters"`
	UserIdentity string         `json:"user_identity"`
}

// ExecuteAction forwards a Pipedream action to the backend and returns
// the raw response body on any 2xx status. Network failures, timeouts,
// and non-2xx responses are returned as errors; callers decide how to
// surface them (the tool layer encodes them as result payloads).
func (c *Client) ExecuteAction(ctx context.Context, req ActionRequest) (string, error) {
	if err := c.checkConfigured(); err != nil {
		return "", err
	}

	body, err := c.post(ctx, "/api/pipedream/execute", req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Document is one knowledge-base search hit as the backend returns it.
type Document struct {
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// SearchRequest is the body for /api/knowledge/search.
type SearchRequest struct {
	Query             string `json:"query"`
	UserID            string `json:"userId,omitempty"`
	KnowledgeBaseType string `json:"knowledgeBaseType,omitempty"`
}

// SearchKnowledge queries the knowledge-base search endpoint.
func (c *Client) SearchKnowledge(ctx context.Context, req SearchRequest) ([]Document, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/api/knowledge/search", req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Documents []Document `json:"documents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return resp.Documents, nil
}

// CheckPresence asks the backend whether the user is inactive.
func (c *Client) CheckPresence(ctx context.Context, userID string) (inactive bool, err error) {
	if c == nil || c.baseURL == "" {
		return false, &ConfigError{Missing: "base URL"}
	}

	body, err := c.post(ctx, "/api/presence/check", map[string]string{"userId": userID})
	if err != nil {
		return false, err
	}

	var resp struct {
		Inactive bool `json:"inactive"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("decode presence response: %w", err)
	}
	return resp.Inactive, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend %s: status %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
