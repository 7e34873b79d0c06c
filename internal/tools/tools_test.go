package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/sentry-mcp/internal/metrics"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// fakeSentry serves mux on a test server and returns its origin.
func fakeSentry(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func callTool(t *testing.T, sc ServerContext, name string, args map[string]any, opts ...Option) (string, bool) {
	t.Helper()
	tool, ok := Lookup(name)
	require.True(t, ok, "tool %s not registered", name)

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := NewRegistry(StaticContext(sc), opts...).Handler(tool)(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{
		"begin_seer_issue_fix",
		"create_dsn",
		"create_issue_alert_rule",
		"create_project",
		"create_team",
		"delete_issue_alert_rule",
		"find_dsns",
		"find_errors",
		"find_issue_alert_rules",
		"find_issues",
		"find_organizations",
		"find_projects",
		"find_releases",
		"find_tags",
		"find_teams",
		"find_transactions",
		"get_issue_alert_rule_details",
		"get_issue_details",
		"get_seer_issue_fix_status",
		"update_issue",
		"update_issue_alert_rule",
		"update_project",
		"whoami",
	}, Names())
}

func TestRegister(t *testing.T) {
	s := mcpserver.NewMCPServer("test", "0.0.0", mcpserver.WithToolCapabilities(true))
	assert.NotPanics(t, func() {
		NewRegistry(StaticContext(ServerContext{})).Register(s)
	})
}

func TestHandler_ResolveFailure(t *testing.T) {
	tool, _ := Lookup("whoami")
	reg := NewRegistry(func(context.Context) (ServerContext, error) {
		return ServerContext{}, errors.New("no session")
	})
	result, err := reg.Handler(tool)(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "no session", result.Content[0].(mcp.TextContent).Text)
}

func TestHandler_MissingOrganizationSlug(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, []any{})
	})
	host := fakeSentry(t, mux)

	text, isErr := callTool(t, ServerContext{Host: host, AccessToken: "tok"}, "find_teams", nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "**Input Error**")
	assert.Contains(t, text, "Organization slug is required. Please provide an organizationSlug parameter.")
	assert.Zero(t, hits.Load())
}

func TestHandler_DefaultOrganizationFromContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/organizations/acme/teams/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []any{map[string]any{"id": 1, "slug": "backend", "name": "Backend"}})
	})
	host := fakeSentry(t, mux)

	text, isErr := callTool(t, ServerContext{Host: host, AccessToken: "tok", OrganizationSlug: "acme"}, "find_teams", nil)
	assert.False(t, isErr)
	assert.Equal(t, "# Teams in **acme**\n\n- backend\n", text)
}

func TestHandler_InvalidRegionURL(t *testing.T) {
	text, isErr := callTool(t, ServerContext{Host: "sentry.io", AccessToken: "tok"}, "whoami",
		map[string]any{"regionUrl": "not-a-url"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Invalid regionUrl provided: not-a-url. Must be a valid URL.")
}

func TestHandler_RegionURLOverridesHost(t *testing.T) {
	var defaultHits atomic.Int32
	defaultMux := http.NewServeMux()
	defaultMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		defaultHits.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	defaultHost := fakeSentry(t, defaultMux)

	regionMux := http.NewServeMux()
	regionMux.HandleFunc("/api/0/auth/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 42, "name": "Jane", "email": "jane@example.com"})
	})
	region := httptest.NewTLSServer(regionMux)
	t.Cleanup(region.Close)
	withTLS := WithClientOptions(sentryapi.WithHTTPClient(region.Client()))

	text, isErr := callTool(t, ServerContext{Host: defaultHost, AccessToken: "tok"}, "whoami",
		map[string]any{"regionUrl": region.URL}, withTLS)
	assert.False(t, isErr)
	assert.Equal(t, "You are authenticated as Jane (jane@example.com).\n\nYour Sentry User ID is 42.", text)
	assert.Zero(t, defaultHits.Load())
}

func TestHandler_RegionURLAlwaysUsesHTTPS(t *testing.T) {
	var tlsHits atomic.Int32
	regionMux := http.NewServeMux()
	regionMux.HandleFunc("/api/0/auth/", func(w http.ResponseWriter, r *http.Request) {
		tlsHits.Add(1)
		assert.NotNil(t, r.TLS)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"id": 42, "name": "Jane", "email": "jane@example.com"})
	})
	region := httptest.NewTLSServer(regionMux)
	t.Cleanup(region.Close)
	plain := strings.Replace(region.URL, "https://", "http://", 1)

	_, isErr := callTool(t, ServerContext{Host: "sentry.io", AccessToken: "tok"}, "whoami",
		map[string]any{"regionUrl": plain}, WithClientOptions(sentryapi.WithHTTPClient(region.Client())))
	assert.False(t, isErr)
	assert.Equal(t, int32(1), tlsHits.Load())
}

func TestHandler_ErrorRendering(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/organizations/missing/projects/", func(w http.ResponseWriter, r *http.Request) {
		writeRaw(w, http.StatusNotFound, `{"detail": "The requested resource does not exist"}`)
	})
	mux.HandleFunc("/api/0/organizations/broken/projects/", func(w http.ResponseWriter, r *http.Request) {
		writeRaw(w, http.StatusBadGateway, `<html>upstream down</html>`)
	})
	host := fakeSentry(t, mux)
	sc := ServerContext{Host: host, AccessToken: "tok"}

	t.Run("api error", func(t *testing.T) {
		text, isErr := callTool(t, sc, "find_projects", map[string]any{"organizationSlug": "missing"})
		assert.True(t, isErr)
		assert.Contains(t, text, "There was an HTTP 404 error with your request to the Sentry API.")
		assert.Contains(t, text, "The requested resource does not exist")
	})

	t.Run("system error", func(t *testing.T) {
		text, isErr := callTool(t, sc, "find_projects", map[string]any{"organizationSlug": "broken"})
		assert.True(t, isErr)
		assert.Contains(t, text, "It looks like there was a problem communicating with the Sentry API.")
		assert.Contains(t, text, "**Event ID**: ")
	})
}

func TestHandler_Metrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/0/organizations/acme/projects/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	host := fakeSentry(t, mux)
	m := metrics.New(prometheus.NewRegistry())
	sc := ServerContext{Host: host, AccessToken: "tok"}

	_, isErr := callTool(t, sc, "find_projects", map[string]any{"organizationSlug": "acme"}, WithMetrics(m))
	assert.False(t, isErr)
	_, isErr = callTool(t, sc, "find_projects", nil, WithMetrics(m))
	assert.True(t, isErr)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("find_projects", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("find_projects", "user_input_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues(http.MethodGet, "200")))
}

func TestParseIssueURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    IssueRef
		wantErr bool
	}{
		{name: "subdomain", raw: "https://acme.sentry.io/issues/PROJ-1Z43", want: IssueRef{"acme", "PROJ-1Z43"}},
		{name: "subdomain trailing slash", raw: "https://acme.sentry.io/issues/123/?project=4", want: IssueRef{"acme", "123"}},
		{name: "organizations path", raw: "https://sentry.example.com/organizations/acme/issues/42/", want: IssueRef{"acme", "42"}},
		{name: "no issue", raw: "https://acme.sentry.io/projects/web/", wantErr: true},
		{name: "no organization", raw: "https://localhost/issues/1", wantErr: true},
		{name: "not a url", raw: "PROJ-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIssueURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "Invalid Sentry issue URL")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCall_IssueRef(t *testing.T) {
	t.Run("missing both", func(t *testing.T) {
		_, err := (&Call{}).IssueRef()
		require.Error(t, err)
		assert.Equal(t, "Either `issueId` or `issueUrl` must be provided", err.Error())
	})

	t.Run("id without organization", func(t *testing.T) {
		_, err := (&Call{args: map[string]any{"issueId": "PROJ-1"}}).IssueRef()
		require.Error(t, err)
		assert.Equal(t, "`organizationSlug` is required when providing `issueId`", err.Error())
	})

	t.Run("id with session organization", func(t *testing.T) {
		ref, err := (&Call{
			ServerContext: ServerContext{OrganizationSlug: "acme"},
			args:          map[string]any{"issueId": " PROJ-1 "},
		}).IssueRef()
		require.NoError(t, err)
		assert.Equal(t, IssueRef{OrganizationSlug: "acme", IssueID: "PROJ-1"}, ref)
	})

	t.Run("url wins", func(t *testing.T) {
		ref, err := (&Call{args: map[string]any{
			"issueId":  "OTHER-9",
			"issueUrl": "https://acme.sentry.io/issues/PROJ-1",
		}}).IssueRef()
		require.NoError(t, err)
		assert.Equal(t, IssueRef{OrganizationSlug: "acme", IssueID: "PROJ-1"}, ref)
	})
}
