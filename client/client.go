// Package client talks to the CSPM backend's JSON API: task status for the
// conncheck poller, provider lookups and scan launches, and the bulk
// account apply whose response feeds reconciliation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provrun/provrun/conncheck"
	"github.com/provrun/provrun/reconcile"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when many
// pollers share one client
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

const defaultRequestTimeout = 30 * time.Second

// Client is an HTTP client for the backend API. Timeouts are applied
// per-request via context rather than as a global client timeout, and
// response bodies are capped at 1MB.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout sets the per-request timeout. Defaults to 30s.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger attaches a logger for request failures.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a backend API client. token is sent as a bearer token
// on every request; pass "" for unauthenticated endpoints.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: defaultRequestTimeout,
		logger:  slog.Default(),
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes all idle connections in the client's connection pool.
// Safe to call multiple times; the client remains usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// GetTask fetches a task's state for the poller. It never returns a Go
// error: transport, decode, and backend failures all land in
// TaskResponse.Error, which is what lets conncheck.Poll keep its
// verdict-only contract.
func (c *Client) GetTask(ctx context.Context, taskID string) conncheck.TaskResponse {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+taskID, nil)
	if err != nil {
		return conncheck.TaskResponse{Error: err.Error()}
	}

	var doc taskDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return conncheck.TaskResponse{Error: fmt.Sprintf("failed to decode task response: %v", err)}
	}
	if msg := doc.Errors.detail(); msg != "" {
		return conncheck.TaskResponse{Error: msg}
	}
	if doc.Data == nil {
		return conncheck.TaskResponse{Error: "task response carried no data"}
	}

	return conncheck.TaskResponse{Task: &conncheck.TaskStatus{
		State: doc.Data.Attributes.State,
		Result: conncheck.TaskResult{
			Connected: doc.Data.Attributes.Result.Connected,
			Error:     doc.Data.Attributes.Result.Error,
		},
	}}
}

// ProviderUID resolves a provider's external unique identifier, used as the
// reconcile fallback lookup.
func (c *Client) ProviderUID(ctx context.Context, providerID string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/providers/"+providerID, nil)
	if err != nil {
		return "", err
	}

	var doc providerDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to decode provider response: %w", err)
	}
	if msg := doc.Errors.detail(); msg != "" {
		return "", fmt.Errorf("provider %s: %s", providerID, msg)
	}
	if doc.Data == nil || doc.Data.Attributes.UID == "" {
		return "", fmt.Errorf("provider %s has no uid", providerID)
	}
	return doc.Data.Attributes.UID, nil
}

// LaunchScan starts a scan for a provider and returns the id of the backend
// task tracking it.
func (c *Client) LaunchScan(ctx context.Context, providerID string) (string, error) {
	payload := scanRequest{}
	payload.Data.Type = "scans"
	payload.Data.Relationships.Provider.Data.ID = providerID
	payload.Data.Relationships.Provider.Data.Type = "providers"

	body, err := c.do(ctx, http.MethodPost, "/api/v1/scans", payload)
	if err != nil {
		return "", err
	}

	var doc scanDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to decode scan response: %w", err)
	}
	if msg := doc.Errors.detail(); msg != "" {
		return "", fmt.Errorf("launch scan for provider %s: %s", providerID, msg)
	}
	if doc.Data == nil || doc.Data.ID == "" {
		return "", fmt.Errorf("scan response for provider %s carried no task id", providerID)
	}
	return doc.Data.ID, nil
}

// TestConnection requests a connection test for a provider and returns the
// id of the backend task tracking it, for the conncheck poller to follow.
func (c *Client) TestConnection(ctx context.Context, providerID string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/providers/"+providerID+"/connection", nil)
	if err != nil {
		return "", err
	}

	var doc scanDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("failed to decode connection test response: %w", err)
	}
	if msg := doc.Errors.detail(); msg != "" {
		return "", fmt.Errorf("connection test for provider %s: %s", providerID, msg)
	}
	if doc.Data == nil || doc.Data.ID == "" {
		return "", fmt.Errorf("connection test response for provider %s carried no task id", providerID)
	}
	return doc.Data.ID, nil
}

// ApplyAccounts creates providers for the given cloud accounts in one bulk
// call and returns the normalized apply result for reconciliation.
func (c *Client) ApplyAccounts(ctx context.Context, accountIDs []string) (reconcile.ApplyResult, error) {
	payload := applyRequest{AccountIDs: accountIDs}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/providers/apply", payload)
	if err != nil {
		return reconcile.ApplyResult{}, err
	}
	return ParseApplyResponse(body)
}

// do performs one request and returns the response body. Non-2xx responses
// whose body decodes as a backend error document are reported with the
// backend's detail message.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var doc struct {
			Errors apiErrors `json:"errors"`
		}
		if json.Unmarshal(body, &doc) == nil {
			if msg := doc.Errors.detail(); msg != "" {
				return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("backend returned %d", resp.StatusCode)
	}

	return body, nil
}
