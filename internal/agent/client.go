package agent

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

	"github.com/kotae-ai/kotae/internal/model"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the agent service (e.g. "http://localhost:8080").
	BaseURL string

	// TenantID identifies the operator's tenant for authentication and
	// data scoping.
	TenantID string

	// APIKey is the secret used to obtain a bearer token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used. Streaming requests always
	// use a separate client without a global timeout.
	HTTPClient *http.Client

	// Timeout applies to individual blocking API requests. Defaults to
	// 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kotae agent service.
// All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	tenantID  string
	client    *http.Client
	streaming *http.Client
	tokenMgr  *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, TenantID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kotae: BaseURL is required")
	}
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("kotae: TenantID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("kotae: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	// SSE connections outlive any sane per-request timeout; cancellation
	// comes from the request context instead.
	streaming := &http.Client{Transport: httpClient.Transport}

	return &Client{
		baseURL:   baseURL,
		tenantID:  cfg.TenantID,
		client:    httpClient,
		streaming: streaming,
		tokenMgr:  newTokenManager(baseURL, cfg.TenantID, cfg.APIKey, httpClient),
	}, nil
}

// TenantID returns the tenant this client authenticates as.
func (c *Client) TenantID() string {
	return c.tenantID
}

// Run executes a question end to end with a single blocking request.
// Used as the fallback path when streaming fails, and for pagination
// continuations (req.PageToken set).
func (c *Client) Run(ctx context.Context, req model.AgentRequest) (*model.AgentResult, error) {
	req.TenantID = c.tenantID
	var resp model.AgentResult
	if err := c.post(ctx, "/v1/agent/run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateSQL asks the agent to produce SQL for a question without
// executing it.
func (c *Client) GenerateSQL(ctx context.Context, req model.AgentRequest) (*model.AgentResult, error) {
	req.TenantID = c.tenantID
	var resp model.AgentResult
	if err := c.post(ctx, "/v1/agent/sql/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteSQL runs previously generated (possibly operator-edited) SQL.
func (c *Client) ExecuteSQL(ctx context.Context, req model.AgentRequest) (*model.AgentResult, error) {
	req.TenantID = c.tenantID
	if req.SQL == "" {
		return nil, fmt.Errorf("kotae: SQL is required for execute")
	}
	var resp model.AgentResult
	if err := c.post(ctx, "/v1/agent/sql/execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModelInfo describes one model available through a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	DisplayName string `json:"display_name,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Models lists the models available for the given provider.
func (c *Client) Models(ctx context.Context, provider string) ([]ModelInfo, error) {
	if provider == "" {
		return nil, fmt.Errorf("kotae: provider is required")
	}
	params := url.Values{}
	params.Set("provider", provider)

	var resp struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.get(ctx, "/v1/models?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// HealthResponse is the agent service's health report.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Health checks the service's health. This endpoint does not require
// authentication and works even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error model.ErrorDetail `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kotae: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kotae: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kotae: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kotae: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kotae: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kotae: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	err = handleResponse(resp, dest)
	if IsUnauthorized(err) {
		c.tokenMgr.invalidate()
	}
	return err
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kotae: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kotae: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints do not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		fillFromDetail(apiErr, &envelope.Error)
		return apiErr
	}

	// Some failure paths return the error detail unwrapped.
	var detail model.ErrorDetail
	if err := json.Unmarshal(body, &detail); err == nil && detail.Message != "" {
		fillFromDetail(apiErr, &detail)
		return apiErr
	}

	apiErr.Code = http.StatusText(statusCode)
	apiErr.Message = string(body)
	return apiErr
}

func fillFromDetail(apiErr *APIError, d *model.ErrorDetail) {
	apiErr.Code = d.Code
	apiErr.Message = d.Message
	apiErr.RequestID = d.RequestID
	apiErr.Info = d.Details
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(apiErr.StatusCode)
	}
}
