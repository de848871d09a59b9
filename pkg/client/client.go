package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rmacdonaldsmith/channelbroker/pkg/wire"
)

// ErrNotAuthenticated is returned by calls that need a token before Login
var ErrNotAuthenticated = errors.New("client not authenticated - call Login() first")

// APIError is a non-2xx response from the gateway
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the gateway's HTTP and WebSocket endpoints
type Client struct {
	config     Config
	httpClient *http.Client
	// streaming calls carry no client-wide timeout
	streamClient *http.Client
	token        string
	baseURL      *url.URL
}

// NewClient creates a new gateway client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		baseURL:      baseURL,
	}, nil
}

// Login obtains a token for the configured client ID and stores it
func (c *Client) Login(ctx context.Context) (*wire.AuthResponse, error) {
	var resp wire.AuthResponse
	req := wire.AuthRequest{ClientID: c.config.ClientID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp, false); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	c.token = resp.Token
	return &resp, nil
}

// Publish streams r to topic. The gateway starts delivering before the upload
// finishes. An empty contentType sends application/octet-stream, which subscribers
// receive as binary.
func (c *Client) Publish(ctx context.Context, topic string, r io.Reader, contentType string) (*wire.PublishResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL("/api/v1/publish", topic, "http"), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	var resp wire.PublishResponse
	if err := c.do(c.streamClient, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to publish: %w", err)
	}
	return &resp, nil
}

// PublishText publishes s to topic as a text message
func (c *Client) PublishText(ctx context.Context, topic, s string) (*wire.PublishResponse, error) {
	return c.Publish(ctx, topic, strings.NewReader(s), "text/plain; charset=utf-8")
}

// Health returns the gateway health. A stopped broker is reported as an APIError
// with status 503.
func (c *Client) Health(ctx context.Context) (*wire.HealthResponse, error) {
	var resp wire.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// AdminSubscriptions lists every subscription entry (admin only)
func (c *Client) AdminSubscriptions(ctx context.Context) (*wire.AdminSubscriptionsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp wire.AdminSubscriptionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/admin/subscriptions", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &resp, nil
}

// AdminStats returns broker counters (admin only)
func (c *Client) AdminStats(ctx context.Context) (*wire.AdminStatsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp wire.AdminStatsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// Token returns the current authentication token
func (c *Client) Token() string {
	return c.token
}

// SetToken sets the authentication token (useful for token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

// topicURL joins prefix and topic under the base URL. scheme "ws" switches http(s)
// to ws(s).
func (c *Client) topicURL(prefix, topic, scheme string) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: prefix + "/" + strings.TrimPrefix(topic, "/")})
	if scheme == "ws" {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}
	return u.String()
}

// doJSON performs a request with an optional JSON body and optional authentication
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}, requireAuth bool) error {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.do(c.httpClient, req, respBody)
}

func (c *Client) do(hc *http.Client, req *http.Request, respBody interface{}) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, bodyBytes)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func apiError(statusCode int, body []byte) *APIError {
	var errResp wire.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: statusCode, Message: errResp.Message}
}
