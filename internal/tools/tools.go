// Package tools exposes the Sentry API to agents as MCP tools. Tools are
// looked up in a static name-to-handler table; every failure is rendered
// with apperr.Format and returned as a tool error.
package tools

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/envutil"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/metrics"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

// ServerContext is what a tool invocation knows about its caller.
type ServerContext struct {
	Host             string
	AccessToken      string
	OrganizationSlug string
	UserID           string
}

// ContextFunc resolves the ServerContext for an incoming call.
type ContextFunc func(ctx context.Context) (ServerContext, error)

// StaticContext always resolves to sc. Used by the stdio transport.
func StaticContext(sc ServerContext) ContextFunc {
	return func(context.Context) (ServerContext, error) { return sc, nil }
}

// Handler runs one tool and returns its markdown output.
type Handler func(ctx context.Context, c *Call) (string, error)

// Tool is a named, described handler.
type Tool struct {
	Name        string
	Description string
	Params      []mcp.ToolOption
	Handler     Handler
}

var registry = map[string]Tool{}

func register(t Tool) {
	if _, dup := registry[t.Name]; dup {
		panic("tools: duplicate tool " + t.Name)
	}
	registry[t.Name] = t
}

// Names returns every registered tool name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the tool registered under name.
func Lookup(name string) (Tool, bool) {
	t, ok := registry[name]
	return t, ok
}

// Registry binds the static tool table to a context resolver.
type Registry struct {
	resolve      ContextFunc
	metrics      *metrics.Metrics
	clientOpts   []sentryapi.Option
	resourceBase string
	fetcher      *resourceFetcher
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics counts tool calls and upstream requests on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
		r.clientOpts = append(r.clientOpts, sentryapi.WithMetrics(m))
	}
}

// WithClientOptions passes opts to every gateway client the tools create.
func WithClientOptions(opts ...sentryapi.Option) Option {
	return func(r *Registry) { r.clientOpts = append(r.clientOpts, opts...) }
}

// NewRegistry creates a Registry resolving callers with resolve.
func NewRegistry(resolve ContextFunc, opts ...Option) *Registry {
	r := &Registry{resolve: resolve}
	for _, opt := range opts {
		opt(r)
	}
	r.fetcher = newResourceFetcher(r.resourceBase)
	return r
}

// Register adds every tool, prompt and resource to s.
func (r *Registry) Register(s *mcpserver.MCPServer) {
	for _, name := range Names() {
		t := registry[name]
		opts := append([]mcp.ToolOption{mcp.WithDescription(t.Description)}, t.Params...)
		s.AddTool(mcp.NewTool(t.Name, opts...), r.Handler(t))
	}
	registerPrompts(s)
	registerResources(s, r.fetcher)
}

// Handler adapts t into an mcp-go tool handler.
func (r *Registry) Handler(t Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sc, err := r.resolve(ctx)
		if err != nil {
			r.metrics.IncToolCall(t.Name, "unauthorized")
			log.LogWarnWithFields("tools", "Tool call without a usable session", map[string]any{
				"tool":  t.Name,
				"error": err.Error(),
			})
			return mcp.NewToolResultError(err.Error()), nil
		}

		call := &Call{
			ServerContext: sc,
			args:          request.GetArguments(),
			clientOpts:    r.clientOpts,
		}
		output, err := t.Handler(ctx, call)
		if err != nil {
			r.metrics.IncToolCall(t.Name, outcome(err))
			log.LogDebugWithFields("tools", "Tool call failed", map[string]any{
				"tool":  t.Name,
				"user":  sc.UserID,
				"error": err.Error(),
			})
			return mcp.NewToolResultError(apperr.Format(err, envutil.IsProduction())), nil
		}

		r.metrics.IncToolCall(t.Name, "ok")
		return mcp.NewToolResultText(output), nil
	}
}

func outcome(err error) string {
	switch apperr.Classify(err) {
	case apperr.KindUserInput:
		return "user_input_error"
	case apperr.KindAPI:
		return "api_error"
	default:
		return "system_error"
	}
}
