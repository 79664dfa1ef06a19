// Package client is the HTTP client for a passage server. It holds the
// session credential in a single atomic slot shared with Monitor.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/internal/logging"
)

// ErrNoCredential is returned by authenticated calls when the slot is empty
var ErrNoCredential = errors.New("no session credential")

// Credential is a bearer token and its server-side expiry
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("passage: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given machine code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to a passage server
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	onReauth   func()

	cred    atomic.Pointer[Credential]
	monitor atomic.Pointer[Monitor]
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// OnReauth registers a callback invoked when the server rejects the
// credential as invalid, expired or revoked
func OnReauth(fn func()) Option {
	return func(c *Client) { c.onReauth = fn }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credential returns the current credential or nil
func (c *Client) Credential() *Credential {
	return c.cred.Load()
}

// SetCredential installs a credential, e.g. one restored from a marker
func (c *Client) SetCredential(cred *Credential) {
	c.cred.Store(cred)
}

// ClearCredential empties the slot and returns what it held
func (c *Client) ClearCredential() *Credential {
	return c.cred.Swap(nil)
}

// LoginResult is the server response to a successful login
type LoginResult struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	ExpiresIn int64        `json:"expires_in"`
	User      core.Profile `json:"user"`
}

// Login authenticates and stores the issued credential
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.send(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return nil, err
	}
	c.cred.Store(&Credential{Token: out.Token, ExpiresAt: out.ExpiresAt})
	return &out, nil
}

// RequestEnrollmentCode asks the server to send a code to email
func (c *Client) RequestEnrollmentCode(ctx context.Context, email string) error {
	return c.send(ctx, http.MethodPost, "/auth/register/code", "", map[string]string{"email": email}, nil)
}

// Register creates the account with the code delivered to email
func (c *Client) Register(ctx context.Context, email, code, displayName, password string) (*core.Profile, error) {
	var out struct {
		User core.Profile `json:"user"`
	}
	body := map[string]string{
		"email":        email,
		"code":         code,
		"display_name": displayName,
		"password":     password,
	}
	if err := c.send(ctx, http.MethodPost, "/auth/register", "", body, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// RequestResetCode asks the server to send a password reset code
func (c *Client) RequestResetCode(ctx context.Context, email string) error {
	return c.send(ctx, http.MethodPost, "/auth/reset/code", "", map[string]string{"email": email}, nil)
}

// ResetPassword sets a new password using a reset code
func (c *Client) ResetPassword(ctx context.Context, email, code, password string) error {
	body := map[string]string{"email": email, "code": code, "password": password}
	return c.send(ctx, http.MethodPost, "/auth/reset", "", body, nil)
}

// Me returns the profile of the authenticated principal
func (c *Client) Me(ctx context.Context) (*core.Profile, error) {
	var out struct {
		User core.Profile `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout revokes the credential on the server. The slot, the monitor and its
// durable marker are cleared first so a failed call never leaves a usable
// credential behind.
func (c *Client) Logout(ctx context.Context) error {
	cred := c.cred.Swap(nil)
	if cred == nil {
		return nil
	}
	c.release(cred)
	return c.send(ctx, http.MethodPost, "/api/logout", cred.Token, nil, nil)
}

// Do performs an authenticated call with the current credential. A 401
// rejecting the token clears the slot and triggers OnReauth.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	cred := c.cred.Load()
	if cred == nil {
		return ErrNoCredential
	}

	err := c.send(ctx, method, path, cred.Token, in, out)
	if rejected(err) {
		// Only the credential that was rejected is cleared
		if c.cred.CompareAndSwap(cred, nil) {
			c.release(cred)
			if c.onReauth != nil {
				c.onReauth()
			}
		}
	}
	return err
}

// rejected reports whether err is a 401 after which the credential can never
// succeed again
func rejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return false
	}
	switch apiErr.Code {
	case core.CodeInvalidToken, core.CodeExpired, core.CodeRevoked:
		return true
	}
	return false
}

// release stops the monitor watching cred, if any
func (c *Client) release(cred *Credential) {
	if m := c.monitor.Load(); m != nil {
		m.release(cred)
	}
}

func (c *Client) send(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.DebugContext(ctx, "request rejected", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
