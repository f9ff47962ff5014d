package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is the production REST endpoint.
	DefaultBaseURL = "https://api.limitless.exchange"

	defaultTimeout = 30 * time.Second
)

// Client is the single HTTP execution unit for the SDK. It builds requests,
// attaches the X-API-Key credential, executes them over a shared connection
// pool, and classifies every failure into the APIError / AuthenticationError /
// NetworkError taxonomy.
//
// A Client is safe for concurrent use; each call is independent and many may
// run in parallel.
type Client struct {
	baseURL    string
	apiKey     string
	headers    map[string]string
	httpClient *http.Client
	logger     logrus.FieldLogger

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the REST endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIKey sets the credential attached to every request. It overrides the
// LIMITLESS_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHeader adds a client-global header sent with every request. Per-call
// headers take precedence over it.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithTimeout sets the per-request timeout of the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a REST client. The credential is read once, here: an
// explicit WithAPIKey wins, otherwise LIMITLESS_API_KEY is consulted. It is
// immutable for the lifetime of the client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		headers: make(map[string]string),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: DiscardLogger(),
	}

	if u := os.Getenv("LIMITLESS_API_URL"); u != "" {
		c.baseURL = strings.TrimRight(u, "/")
	}
	c.apiKey = os.Getenv("LIMITLESS_API_KEY")

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.logger.Warn("api key not set; authenticated endpoints will fail")
	}

	return c
}

// DiscardLogger returns a logrus logger that drops every entry. Used as the
// default so an absent logger is a safe no-op.
func DiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// HasAPIKey reports whether a credential was configured.
func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// RequireAuth returns an AuthenticationError when no credential is configured.
// Callers of authenticated endpoints check this before any network activity.
func (c *Client) RequireAuth() error {
	if c.apiKey != "" {
		return nil
	}
	return &AuthenticationError{APIError: APIError{
		StatusCode: http.StatusUnauthorized,
		Body:       []byte("no API key configured"),
	}}
}

// Do executes a single HTTP request and returns the raw response body.
// Headers are merged with precedence per-call > client-global > credential.
// Non-2xx responses come back as *APIError (or *AuthenticationError for
// 401/403); connection-level failures come back as *NetworkError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"has_body": body != nil,
		"headers":  redactHeaders(req.Header),
	}).Debug("http request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"error":  err.Error(),
		}).Debug("http transport failure")
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("http response")

	if resp.StatusCode >= 400 {
		return nil, newStatusError(resp.StatusCode, method, path, respBody)
	}

	return respBody, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, path, nil, body, nil)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// GetJSON issues a GET request and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Close releases the shared connection pool. Safe to call more than once;
// the release happens exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.httpClient.CloseIdleConnections()
	})
}

// redactHeaders copies the header map for logging with the credential masked.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		if strings.EqualFold(k, "X-API-Key") {
			out[k] = "<redacted>"
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}
