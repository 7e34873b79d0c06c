package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dgellow/sentry-mcp/internal/approval"
	"github.com/dgellow/sentry-mcp/internal/authreq"
	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/crypto"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/metrics"
	"github.com/dgellow/sentry-mcp/internal/oauth"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
	"github.com/dgellow/sentry-mcp/internal/server"
	"github.com/dgellow/sentry-mcp/internal/session"
	"github.com/dgellow/sentry-mcp/internal/storage"
	"github.com/dgellow/sentry-mcp/internal/tools"
	"github.com/dgellow/sentry-mcp/internal/upstreamauth"
)

// ServerName is reported to agents during protocol initialization.
const ServerName = "sentry-mcp"

// SentryMCP is the authorization proxy and tool server wired together.
type SentryMCP struct {
	config     config.Config
	httpServer *server.HTTPServer
	mcpHandler *server.MCPHandler
	storage    storage.Storage
}

// components are the collaborators shared by the HTTP routes.
type components struct {
	provider *oauth.Provider
	auth     *server.AuthHandlers
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	info     mcp.Implementation
	apiOpts  []sentryapi.Option
}

// NewSentryMCP builds the application from a validated config.
func NewSentryMCP(ctx context.Context, cfg config.Config, version string) (*SentryMCP, error) {
	log.LogInfoWithFields("sentrymcp", "Building application", map[string]any{
		"baseURL":    cfg.BaseURL,
		"sentryHost": cfg.Sentry.Host,
		"storage":    cfg.Auth.Storage,
	})

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}
	if clients, err := store.ListClients(ctx); err == nil {
		log.LogInfoWithFields("storage", "Registered clients loaded", map[string]any{
			"count": len(clients),
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := setupComponents(cfg, baseURL.String(), store, metrics.New(reg))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to setup authentication: %w", err)
	}
	c.gatherer = reg
	c.info = mcp.Implementation{Name: ServerName, Version: version}

	handler, mcpHandler := buildHTTPHandler(cfg, c)

	return &SentryMCP{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
		mcpHandler: mcpHandler,
		storage:    store,
	}, nil
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *SentryMCP) Run() error {
	log.LogInfoWithFields("sentrymcp", "Starting application", map[string]any{
		"addr": s.config.Addr,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("sentrymcp", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("sentrymcp", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("sentrymcp", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.mcpHandler.Shutdown(shutdownCtx); err != nil {
		log.LogWarnWithFields("sentrymcp", "MCP transport shutdown error", map[string]any{
			"error": err.Error(),
		})
	}
	if err := s.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("sentrymcp", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	if err := s.storage.Close(); err != nil {
		log.LogWarnWithFields("sentrymcp", "Storage close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("sentrymcp", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// RunStdio serves the tools over stdin/stdout with a fixed caller context.
func RunStdio(sc tools.ServerContext, version string) error {
	log.LogInfoWithFields("sentrymcp", "Serving tools over stdio", map[string]any{
		"host":         sc.Host,
		"organization": sc.OrganizationSlug,
	})
	s := server.NewMCPServer(mcp.Implementation{Name: ServerName, Version: version}, tools.StaticContext(sc))
	return mcpserver.ServeStdio(s)
}

// setupStorage creates the registered client store selected by the config.
func setupStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	if cfg.Auth.Storage == config.StorageFirestore {
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.Auth.GCPProject,
			"database":   cfg.Auth.FirestoreDatabase,
			"collection": cfg.Auth.FirestoreCollection,
		})
		return storage.NewFirestoreStorage(ctx, cfg.Auth.GCPProject, cfg.Auth.FirestoreDatabase, cfg.Auth.FirestoreCollection)
	}

	log.LogInfoWithFields("storage", "Using in-memory storage", nil)
	return storage.NewMemoryStorage(), nil
}

// setupComponents derives the per-purpose keys and builds the authorization
// server and its handlers.
func setupComponents(cfg config.Config, baseURL string, store storage.Storage, m *metrics.Metrics, apiOpts ...sentryapi.Option) (*components, error) {
	cookieSecret := []byte(cfg.Auth.CookieSecret)
	approvalKey, err := crypto.DeriveKey(cookieSecret, "approval")
	if err != nil {
		return nil, err
	}
	stateKey, err := crypto.DeriveKey(cookieSecret, "state")
	if err != nil {
		return nil, err
	}
	csrfKey, err := crypto.DeriveKey(cookieSecret, "csrf")
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewJWEIssuer([]byte(cfg.Auth.EncryptionKey), cfg.Auth.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create session issuer: %w", err)
	}

	provider, err := oauth.NewProvider(cfg.Auth, baseURL, store, sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth provider: %w", err)
	}

	authHandlers := server.NewAuthHandlers(
		provider,
		store,
		approval.NewCache(approvalKey, cfg.Auth.ApprovalTTL),
		authreq.NewCodec(stateKey, cfg.Auth.StateTTL),
		upstreamauth.NewExchanger(cfg.Sentry, baseURL),
		crypto.NewCSRFProtection(csrfKey, cfg.Auth.StateTTL),
		cfg.Sentry.Host,
		server.WithAuthMetrics(m),
		server.WithDiscoveryOptions(apiOpts...),
	)

	return &components{
		provider: provider,
		auth:     authHandlers,
		metrics:  m,
		apiOpts:  apiOpts,
	}, nil
}

// buildHTTPHandler registers every route with its middleware.
func buildHTTPHandler(cfg config.Config, c *components) (http.Handler, *server.MCPHandler) {
	mux := http.NewServeMux()

	corsMiddleware := server.NewCORSMiddleware(cfg.Auth.AllowedOrigins)
	oauthMiddleware := []server.MiddlewareFunc{
		corsMiddleware,
		server.NewLoggerMiddleware("oauth"),
		server.NewRecoverMiddleware("oauth"),
	}
	oauthRoute := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, server.ChainMiddleware(h, oauthMiddleware...))
	}

	mux.Handle("/health", server.NewHealthHandler())
	mux.HandleFunc("/robots.txt", server.RobotsHandler)
	mux.HandleFunc("/llms.txt", server.LLMsHandler)
	mux.Handle("/metrics", server.NewMetricsHandler(c.gatherer))

	oauthRoute("/.well-known/oauth-authorization-server", c.auth.WellKnownHandler)
	oauthRoute("/.well-known/oauth-protected-resource", c.auth.ProtectedResourceMetadataHandler)
	oauthRoute("/.well-known/oauth-protected-resource/"+oauth.ResourcePath, c.auth.ProtectedResourceMetadataHandler)
	oauthRoute("/oauth/authorize", c.auth.AuthorizeHandler)
	oauthRoute("/oauth/callback", c.auth.CallbackHandler)
	oauthRoute("/oauth/token", c.auth.TokenHandler)
	oauthRoute("/oauth/register", c.auth.RegisterHandler)
	oauthRoute("/oauth/register/{client_id}", c.auth.ClientMetadataHandler)

	toolOpts := []tools.Option{tools.WithMetrics(c.metrics)}
	if len(c.apiOpts) > 0 {
		toolOpts = append(toolOpts, tools.WithClientOptions(c.apiOpts...))
	}
	mcpPath := "/" + oauth.ResourcePath
	mcpHandler := server.NewMCPHandler(
		server.NewMCPServer(c.info, server.SessionContext(cfg.Sentry.Host), toolOpts...),
		mcpPath,
	)
	mux.Handle(mcpPath, server.ChainMiddleware(mcpHandler,
		corsMiddleware,
		server.NewLoggerMiddleware("mcp"),
		server.NewRecoverMiddleware("mcp"),
		oauth.NewValidateTokenMiddleware(c.provider),
	))

	log.LogInfoWithFields("server", "Routes registered", map[string]any{
		"tools": len(tools.Names()),
	})
	return mux, mcpHandler
}
