package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/session"
	"github.com/dgellow/sentry-mcp/internal/tools"
)

// ErrNoSession is returned to tools called without resolved session props.
var ErrNoSession = errors.New("no active Sentry session, reconnect and sign in again")

const instructions = "Tools for working with Sentry: look up organizations, projects and issues, " +
	"search errors and spans, manage teams, projects, DSNs and issue alert rules, and run Seer issue fixes. " +
	"Most tools take an organizationSlug; when omitted the organization chosen at sign-in is used."

// NewMCPServer builds the agent protocol server with every tool, prompt and
// resource registered.
func NewMCPServer(info mcp.Implementation, resolve tools.ContextFunc, opts ...tools.Option) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(info.Name, info.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(instructions),
	)
	tools.NewRegistry(resolve, opts...).Register(s)
	return s
}

// SessionContext resolves tool callers from the session props the bearer
// token middleware put on the request context. Tools talk to sentryHost
// unless a call overrides the region.
func SessionContext(sentryHost string) tools.ContextFunc {
	return func(ctx context.Context) (tools.ServerContext, error) {
		props, ok := session.FromContext(ctx)
		if !ok || props.AccessToken == "" {
			return tools.ServerContext{}, ErrNoSession
		}
		sc := tools.ServerContext{
			Host:        sentryHost,
			AccessToken: props.AccessToken,
			UserID:      props.UserID,
		}
		if props.AccountSlug != nil {
			sc.OrganizationSlug = *props.AccountSlug
		}
		return sc, nil
	}
}

// MCPHandler serves the tools over the streamable HTTP transport. Every
// request stands alone: no protocol session is kept between requests, so a
// request is only ever served with the credentials it carries.
type MCPHandler struct {
	transport *mcpserver.StreamableHTTPServer
}

// NewMCPHandler wraps s for HTTP. It must sit behind
// oauth.NewValidateTokenMiddleware.
func NewMCPHandler(s *mcpserver.MCPServer, endpointPath string) *MCPHandler {
	return &MCPHandler{
		transport: mcpserver.NewStreamableHTTPServer(s,
			mcpserver.WithEndpointPath(endpointPath),
			mcpserver.WithStateLess(true),
			mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				if props, ok := session.FromContext(r.Context()); ok {
					return session.WithProps(ctx, props)
				}
				return ctx
			}),
		),
	}
}

func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.LogTraceWithFields("mcp", "Handling request", map[string]any{
		"method":         r.Method,
		"path":           r.URL.Path,
		"content_length": r.ContentLength,
	})
	h.transport.ServeHTTP(w, r)
}

// Shutdown stops the transport.
func (h *MCPHandler) Shutdown(ctx context.Context) error {
	return h.transport.Shutdown(ctx)
}
