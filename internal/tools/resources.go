package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/log"
)

const (
	defaultRawBaseURL   = "https://raw.githubusercontent.com"
	resourceCacheTTL    = time.Hour
	resourceFetchLimit  = 1 << 20
	resourceHTTPTimeout = 10 * time.Second
)

// resources are reference documents mirrored from GitHub. The URI is the
// human-facing blob link; content is read from the raw host.
var resources = []mcp.Resource{
	mcp.NewResource(
		"https://github.com/getsentry/sentry-ai-rules/blob/main/api/query-syntax.mdc",
		"sentry-query-syntax",
		mcp.WithResourceDescription("Use these rules to understand common query parameters when searching Sentry for information."),
		mcp.WithMIMEType("text/plain"),
	),
}

// WithResourceBaseURL reads resource content from base instead of GitHub's
// raw content host.
func WithResourceBaseURL(base string) Option {
	return func(r *Registry) { r.resourceBase = strings.TrimSuffix(base, "/") }
}

type resourceFetcher struct {
	baseURL    string
	httpClient *http.Client
	cache      *ttlcache.Cache[string, string]
}

func newResourceFetcher(baseURL string) *resourceFetcher {
	if baseURL == "" {
		baseURL = defaultRawBaseURL
	}
	return &resourceFetcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: resourceHTTPTimeout},
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](resourceCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// rawURL maps github.com/<owner>/<repo>/blob/<ref>/<path> onto the raw host.
func (f *resourceFetcher) rawURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host != "github.com" || !strings.Contains(u.Path, "/blob/") {
		return "", fmt.Errorf("unsupported resource URI %q", uri)
	}
	return f.baseURL + strings.Replace(u.Path, "/blob/", "/", 1), nil
}

func (f *resourceFetcher) fetch(ctx context.Context, uri string) (string, error) {
	if item := f.cache.Get(uri); item != nil {
		return item.Value(), nil
	}

	target, err := f.rawURL(uri)
	if err != nil {
		return "", apperr.NewSystemError(err, "resolving resource")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", apperr.NewSystemError(err, "building resource request")
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", apperr.NewSystemError(err, "fetching resource %s", uri)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.NewSystemError(errors.New(resp.Status), "fetching resource %s", uri)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, resourceFetchLimit))
	if err != nil {
		return "", apperr.NewSystemError(err, "reading resource %s", uri)
	}

	text := string(data)
	f.cache.Set(uri, text, ttlcache.DefaultTTL)
	log.LogDebugWithFields("tools", "Resource fetched", map[string]any{
		"uri":   uri,
		"bytes": len(data),
	})
	return text, nil
}

// registerResources adds every resource to s, served through f.
func registerResources(s *mcpserver.MCPServer, f *resourceFetcher) {
	for _, res := range resources {
		s.AddResource(res, resourceHandler(res, f))
	}
}

func resourceHandler(res mcp.Resource, f *resourceFetcher) mcpserver.ResourceHandlerFunc {
	return func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := f.fetch(ctx, res.URI)
		if err != nil {
			log.LogWarnWithFields("tools", "Resource fetch failed", map[string]any{
				"uri":   res.URI,
				"error": err.Error(),
			})
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: res.URI, MIMEType: res.MIMEType, Text: text},
		}, nil
	}
}
