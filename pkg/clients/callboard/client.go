package callboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	api "callboard/pkg/api/callboard"
	"callboard/pkg/api/common"
	"callboard/pkg/clients"
	"callboard/pkg/logging"
	"callboard/pkg/models"
)

// ValidationError is returned for 400 responses. It is never retried.
type ValidationError struct {
	Code    string
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("crier rejected request (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("crier rejected request (%s)", e.Code)
}

// NotFoundError is returned for 404 responses. It is never retried.
type NotFoundError struct {
	Code    string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return "crier: " + e.Message
	}
	return "crier: not found"
}

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crier returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("crier returned status %d", e.StatusCode)
}

// Client talks to the Crier HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger

	// reads and idempotent writes
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool

	// submissions, which must not be replayed once the server may have
	// stored them
	submitExecutor    failsafe.Executor[*http.Response]
	submitShouldRetry func(resp *http.Response, err error) bool
}

type Option func(*Client)

// NewClient creates a client for the server at baseURL (e.g.
// http://localhost:18030).
func NewClient(baseURL string, opts ...Option) *Client {
	cfg := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second, Transport: clients.DefaultTransport()},
	}
	c.applyExecutorConfig(cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPExecutorConfig replaces retry and breaker settings.
func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.applyExecutorConfig(cfg)
	}
}

// WithCircuitBreaker puts a breaker in front of every request.
func WithCircuitBreaker(cb clients.CircuitBreakerConfig) Option {
	return func(c *Client) {
		if cb.Logger == nil {
			cb.Logger = c.logger
		}
		cfg := clients.DefaultHTTPExecutorConfig()
		cfg.CircuitBreaker = &cb
		c.applyExecutorConfig(cfg)
	}
}

func (c *Client) applyExecutorConfig(cfg clients.HTTPExecutorConfig) {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = clients.DefaultShouldRetry
	}
	c.httpExecutor = clients.NewHTTPExecutor(cfg)
	c.shouldRetry = cfg.ShouldRetry

	submitCfg := cfg
	submitCfg.ShouldRetry = SubmitShouldRetry
	c.submitExecutor = clients.NewHTTPExecutor(submitCfg)
	c.submitShouldRetry = SubmitShouldRetry
}

// SubmitShouldRetry only retries when the announcement cannot have been
// stored: the connection was never established, or the server answered 503
// or 429.
func SubmitShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string { return c.baseURL }

// WebSocketURL derives the push channel address from the base URL.
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Submit publishes an announcement.
func (c *Client) Submit(ctx context.Context, p models.Payload) (*api.SubmitResponse, error) {
	body, err := json.Marshal(api.SubmitRequest{Announcement: p})
	if err != nil {
		return nil, fmt.Errorf("encode announcement: %w", err)
	}
	var out api.SubmitResponse
	if err := c.do(ctx, c.submitExecutor, c.submitShouldRetry, http.MethodPost, "/api/announcements", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the whole window newest-first.
func (c *Client) List(ctx context.Context) (*api.ListResponse, error) {
	var out api.ListResponse
	if err := c.do(ctx, c.httpExecutor, c.shouldRetry, http.MethodGet, "/api/announcements", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPending returns unprocessed announcements newest-first.
func (c *Client) ListPending(ctx context.Context) (*api.ListResponse, error) {
	var out api.ListResponse
	if err := c.do(ctx, c.httpExecutor, c.shouldRetry, http.MethodGet, "/api/announcements/pending", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkProcessed acknowledges an announcement. Acknowledging is idempotent on
// the server, so it is retried like a read.
func (c *Client) MarkProcessed(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/announcements/%d/processed", id)
	var out common.SuccessResponse
	return c.do(ctx, c.httpExecutor, c.shouldRetry, http.MethodPost, path, nil, &out)
}

// Status returns server counters.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, c.httpExecutor, c.shouldRetry, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestAnnouncement asks the server to publish its canned announcement.
func (c *Client) TestAnnouncement(ctx context.Context) (*api.SubmitResponse, error) {
	var out api.SubmitResponse
	if err := c.do(ctx, c.submitExecutor, c.submitShouldRetry, http.MethodGet, "/api/test-announcement", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, executor failsafe.Executor[*http.Response], shouldRetry func(*http.Response, error) bool, method, path string, body []byte, out interface{}) error {
	reqURL := c.baseURL + path

	// status of the last attempt, kept in case the retries are exhausted
	lastStatus := 0
	attempt := func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		lastStatus = 0
		resp, err := c.client.Do(req)
		if resp != nil {
			lastStatus = resp.StatusCode
		}
		if shouldRetry != nil && shouldRetry(resp, err) && resp != nil && resp.Body != nil {
			// drain so the connection is reusable; the buffered copy stays
			// readable if this turns out to be the final attempt
			data, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(data))
		}
		return resp, err
	}

	var resp *http.Response
	var err error
	if executor == nil {
		resp, err = attempt()
	} else {
		resp, err = clients.ExecuteHTTP(ctx, executor, attempt)
	}
	if err != nil {
		if lastStatus != 0 && ctx.Err() == nil {
			return &APIError{StatusCode: lastStatus, Message: "retries exhausted"}
		}
		return fmt.Errorf("crier %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Debug("crier request")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return decodeError(resp.StatusCode, raw)
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	switch status {
	case http.StatusBadRequest:
		return &ValidationError{Code: body.Error, Message: body.Message, Fields: body.Fields}
	case http.StatusNotFound:
		return &NotFoundError{Code: body.Error, Message: body.Message}
	default:
		return &APIError{StatusCode: status, Code: body.Error, Message: body.Message}
	}
}
