// Package sentryapi is a schema-validating client for the Sentry REST API.
// Every call goes through one request primitive that resolves the target
// host, attaches the bearer token, validates the response shape and
// classifies failures into apperr kinds. It never retries.
package sentryapi

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
	"time"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/metrics"
)

// DefaultHost is used when no host is configured.
const DefaultHost = "sentry.io"

const (
	apiPrefix       = "/api/0"
	maxResponseSize = 10 << 20
	defaultTimeout  = 30 * time.Second
)

// Client talks to one Sentry installation on behalf of one access token.
type Client struct {
	host        string
	accessToken string
	httpClient  *http.Client
	metrics     *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records upstream calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for host. host is either a bare hostname
// (https implied) or an origin such as "http://127.0.0.1:8080". An empty
// host means DefaultHost. An empty accessToken sends unauthenticated requests.
func NewClient(host, accessToken string, opts ...Option) *Client {
	if host == "" {
		host = DefaultHost
	}
	c := &Client{
		host:        host,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the configured default host.
func (c *Client) Host() string {
	return c.host
}

// RequestOptions carries per-call overrides.
type RequestOptions struct {
	// Host replaces the client's default host for this call only.
	Host string
}

// HostFromURL returns the host of a region or organization URL supplied by
// a caller. The scheme is dropped, so requests to it always use https.
func HostFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.Host, nil
}

// regionHost is HostFromURL for region URLs reported by Sentry itself. A
// client configured with a plain-http origin (local installs) keeps
// plain-http regions; every other client stays on https.
func (c *Client) regionHost(raw string) (string, error) {
	host, err := HostFromURL(raw)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(c.host, "http://") && strings.HasPrefix(raw, "http://") {
		return "http://" + host, nil
	}
	return host, nil
}

func baseURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimSuffix(host, "/")
	}
	return "https://" + host
}

func hostname(host string) string {
	if u, err := url.Parse(baseURL(host)); err == nil {
		return u.Host
	}
	return host
}

func (c *Client) resolveURL(path string, opts RequestOptions) string {
	host := c.host
	if opts.Host != "" {
		host = opts.Host
	}
	return baseURL(host) + apiPrefix + path
}

type validator interface {
	Validate() error
}

type errorBody struct {
	Detail *string `json:"detail"`
}

// request performs one API call. When out is non-nil the 2xx body is decoded
// into it and, if out implements Validate, checked against the expected shape.
func (c *Client) request(ctx context.Context, method, path string, body any, opts RequestOptions, out any) error {
	target := c.resolveURL(path, opts)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.NewSystemError(err, "encoding request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperr.NewSystemError(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	log.LogTraceWithFields("sentryapi", "Upstream request", map[string]any{
		"method": method,
		"url":    target,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(method, 0, time.Since(start))
		return apperr.NewSystemError(err, "API request failed")
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(method, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return apperr.NewSystemError(err, "reading response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyFailure(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	// null would decode into a nil list or a zero struct and pass validation.
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return apperr.NewSystemError(errors.New("response body is null"), "unexpected response shape from %s %s", method, path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.NewSystemError(err, "invalid JSON response from %s %s", method, path)
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return apperr.NewSystemError(err, "unexpected response shape from %s %s", method, path)
		}
	}
	return nil
}

func classifyFailure(status int, data []byte) error {
	var parsed errorBody
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Detail != nil {
		return apperr.NewAPIError(status, *parsed.Detail)
	}

	log.LogWarnWithFields("sentryapi", "Unparseable error response", map[string]any{
		"status": status,
	})
	return &apperr.SystemError{
		Message: fmt.Sprintf("API request failed: %d %s\n%s", status, http.StatusText(status), data),
	}
}

// IssueURL returns the web UI link for an issue.
func (c *Client) IssueURL(organizationSlug, issueID string) string {
	host := hostname(c.host)
	if host != DefaultHost {
		return fmt.Sprintf("https://%s/organizations/%s/issues/%s", host, organizationSlug, issueID)
	}
	return fmt.Sprintf("https://%s.%s/issues/%s", organizationSlug, host, issueID)
}

// TraceURL returns the web UI link for a trace.
func (c *Client) TraceURL(organizationSlug, traceID string) string {
	host := hostname(c.host)
	if host != DefaultHost {
		return fmt.Sprintf("https://%s/organizations/%s/explore/traces/trace/%s", host, organizationSlug, traceID)
	}
	return fmt.Sprintf("https://%s.%s/explore/traces/trace/%s", organizationSlug, host, traceID)
}
