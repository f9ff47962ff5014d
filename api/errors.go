package api

import (
	"fmt"
	"net/http"
)

// APIError is returned for any non-2xx HTTP response. The raw response body is
// carried unparsed so callers can decode the exchange's error payload themselves.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 256))
}

// AuthenticationError is the distinguished 401/403 variant of APIError.
// It is never retried, regardless of policy.
type AuthenticationError struct {
	APIError
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.APIError.Error()
}

// NetworkError wraps a connection-level failure (DNS, timeout, reset) that
// occurred before an HTTP status was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// newStatusError classifies a non-2xx response into the error taxonomy.
func newStatusError(status int, method, path string, body []byte) error {
	apiErr := APIError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Body:       body,
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthenticationError{APIError: apiErr}
	}
	return &apiErr
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
