// Package client talks to the RepairHub backend API. Every call classifies
// its failure so the sync engine can decide between retrying, giving up,
// or waiting for connectivity.
package client

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrorKind classifies an API failure for retry decisions.
type ErrorKind string

const (
	// KindValidation covers 400 and 422 responses. The request itself is
	// bad and retrying it unchanged will never succeed.
	KindValidation ErrorKind = "validation"
	// KindServer covers 5xx responses and retryable 4xx statuses such as
	// 401 and 429. The request may succeed on a later attempt.
	KindServer ErrorKind = "server"
	// KindNetwork covers transport failures before any response arrived.
	KindNetwork ErrorKind = "network"
)

// Error is a classified API failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("api %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Client issues authenticated requests against the backend API.
type Client struct {
	baseURL string
	httpc   *http.Client
	clock   func() time.Time

	mu    sync.RWMutex
	token string
}

// New builds a client for baseURL. A nil httpc gets a 30 second timeout
// client; sync runs must not hang indefinitely on a dead link.
func New(baseURL string, httpc *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		httpc:   httpc,
		clock:   time.Now,
	}, nil
}

// SetToken installs the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// ClearToken drops the current bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// HasValidToken reports whether a token is installed and, when the token
// is a JWT with an exp claim, whether that expiry is still in the future.
// The claim is read without signature verification; the server remains
// the authority, this only avoids sending requests doomed to a 401.
func (c *Client) HasValidToken() bool {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		// Opaque tokens are accepted as-is.
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return c.clock().Before(claims.ExpiresAt.Time)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// classify turns an HTTP status into a typed error. Transport failures
// never reach here; they are wrapped as KindNetwork at the call site.
//
// Only 400 and 422 mean the request itself was rejected. Other 4xx
// statuses (401 after a token lapse, 408, 429) can succeed on a later
// attempt and must stay retryable.
func classify(status int, message string) *Error {
	kind := KindServer
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		kind = KindValidation
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, StatusCode: status, Message: message}
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: op, Err: err}
}
