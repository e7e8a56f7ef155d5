// Package identity provides the REST client for the identity backend.
package identity

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

	"github.com/Ahmdfdhilah/dashgate/internal/domain/identity"
	"github.com/Ahmdfdhilah/dashgate/internal/port/outbound"
)

const (
	// DefaultTimeout bounds every identity call.
	DefaultTimeout = 30 * time.Second

	// maxResponseBodySize caps how much of a response is read.
	maxResponseBodySize = 1 << 20 // 1MB
)

// Endpoint paths, relative to the base URL.
const (
	pathCurrentUser = "/users/me"
	pathEmployee    = "/employees/"
	pathOrgUnit     = "/org-units/"
	pathRefresh     = "/auth/refresh"
	pathLogout      = "/auth/logout"
)

// HTTPClient talks to the identity REST API.
// It implements the outbound.IdentityClient interface.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

var _ outbound.IdentityClient = (*HTTPClient)(nil)

// ClientOption is a functional option for configuring HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout for the HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "dashgate",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentUser implements outbound.IdentityClient.
func (c *HTTPClient) CurrentUser(ctx context.Context, accessToken string) (*identity.UserProfile, error) {
	var p identity.UserProfile
	if err := c.do(ctx, http.MethodGet, pathCurrentUser, accessToken, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Employee implements outbound.IdentityClient.
func (c *HTTPClient) Employee(ctx context.Context, accessToken, id string) (*identity.Employee, error) {
	var e identity.Employee
	if err := c.do(ctx, http.MethodGet, pathEmployee+url.PathEscape(id), accessToken, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// OrganizationUnit implements outbound.IdentityClient.
func (c *HTTPClient) OrganizationUnit(ctx context.Context, accessToken, id string) (*identity.OrganizationUnit, error) {
	var u identity.OrganizationUnit
	if err := c.do(ctx, http.MethodGet, pathOrgUnit+url.PathEscape(id), accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Refresh implements outbound.IdentityClient. The refresh token is sent
// both as the bearer credential and in the body.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (outbound.TokenPair, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var pair outbound.TokenPair
	if err := c.do(ctx, http.MethodPost, pathRefresh, refreshToken, body, &pair); err != nil {
		return outbound.TokenPair{}, err
	}
	return pair, nil
}

// Logout implements outbound.IdentityClient.
func (c *HTTPClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, pathLogout, accessToken, nil, nil)
}

// do sends one request and decodes the response into out, unwrapping a
// {"data": ...} envelope if present. out may be nil.
func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, outbound.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, outbound.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: snippet(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decode(data, out)
}

// decode unmarshals data into out, accepting either a bare object or one
// wrapped as {"data": ...}.
func decode(data []byte, out any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err == nil {
		if raw := bytes.TrimSpace(env.Data); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && raw[0] == '{' {
			data = raw
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for unexpected non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
