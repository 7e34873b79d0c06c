package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/ory/fosite"

	"github.com/dgellow/sentry-mcp/internal/apperr"
	"github.com/dgellow/sentry-mcp/internal/approval"
	"github.com/dgellow/sentry-mcp/internal/authreq"
	"github.com/dgellow/sentry-mcp/internal/cookie"
	"github.com/dgellow/sentry-mcp/internal/crypto"
	"github.com/dgellow/sentry-mcp/internal/envutil"
	jsonwriter "github.com/dgellow/sentry-mcp/internal/json"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/metrics"
	"github.com/dgellow/sentry-mcp/internal/oauth"
	"github.com/dgellow/sentry-mcp/internal/oauthsession"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
	"github.com/dgellow/sentry-mcp/internal/session"
	"github.com/dgellow/sentry-mcp/internal/storage"
	"github.com/dgellow/sentry-mcp/internal/upstreamauth"
)

// AuthHandlers serves the downstream OAuth endpoints and drives the upstream
// round-trip between them.
type AuthHandlers struct {
	provider   *oauth.Provider
	storage    storage.Storage
	approvals  *approval.Cache
	states     *authreq.Codec
	exchanger  *upstreamauth.Exchanger
	csrf       crypto.CSRFProtection
	sentryHost string

	metrics *metrics.Metrics
	apiOpts []sentryapi.Option
}

// AuthOption configures AuthHandlers.
type AuthOption func(*AuthHandlers)

// WithAuthMetrics counts approvals, completions and exchange failures on m.
func WithAuthMetrics(m *metrics.Metrics) AuthOption {
	return func(h *AuthHandlers) {
		h.metrics = m
		h.apiOpts = append(h.apiOpts, sentryapi.WithMetrics(m))
	}
}

// WithDiscoveryOptions configures the gateway client used for account discovery.
func WithDiscoveryOptions(opts ...sentryapi.Option) AuthOption {
	return func(h *AuthHandlers) { h.apiOpts = append(h.apiOpts, opts...) }
}

// NewAuthHandlers creates new auth handlers with dependency injection
func NewAuthHandlers(
	provider *oauth.Provider,
	store storage.Storage,
	approvals *approval.Cache,
	states *authreq.Codec,
	exchanger *upstreamauth.Exchanger,
	csrf crypto.CSRFProtection,
	sentryHost string,
	opts ...AuthOption,
) *AuthHandlers {
	h := &AuthHandlers{
		provider:   provider,
		storage:    store,
		approvals:  approvals,
		states:     states,
		exchanger:  exchanger,
		csrf:       csrf,
		sentryHost: sentryHost,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WellKnownHandler serves OAuth 2.0 Authorization Server Metadata (RFC 8414)
func (h *AuthHandlers) WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	metadata, err := oauth.AuthorizationServerMetadata(h.provider.Issuer())
	if err != nil {
		log.LogError("Failed to build authorization server metadata: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	_ = jsonwriter.Write(w, metadata)
}

// ProtectedResourceMetadataHandler serves OAuth 2.0 Protected Resource Metadata (RFC 9728)
func (h *AuthHandlers) ProtectedResourceMetadataHandler(w http.ResponseWriter, r *http.Request) {
	metadata, err := oauth.ProtectedResourceMetadata(h.provider.Issuer())
	if err != nil {
		log.LogError("Failed to build protected resource metadata: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	_ = jsonwriter.Write(w, metadata)
}

// ClientMetadataHandler returns the registration of one client, without its secret.
func (h *AuthHandlers) ClientMetadataHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		jsonwriter.WriteBadRequest(w, "Missing client_id")
		return
	}

	client, err := h.storage.GetClientWithMetadata(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			jsonwriter.WriteNotFound(w, "Client not found")
			return
		}
		log.LogErrorWithFields("auth", "Failed to get client", map[string]any{
			"client_id": clientID,
			"error":     err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to retrieve client")
		return
	}

	metadata := oauth.BuildClientMetadata(
		client.ID,
		client.RedirectURIs,
		client.GrantTypes,
		client.ResponseTypes,
		client.Scopes,
		"",
		client.CreatedAt,
	)
	if len(client.Secret) > 0 {
		metadata.TokenEndpointAuthMethod = "client_secret_post"
	}
	_ = jsonwriter.Write(w, metadata)
}

// AuthorizeHandler is the downstream authorization endpoint. GET checks the
// approval cookie and either forwards to Sentry or shows the consent page;
// POST is the consent form submission.
func (h *AuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.authorize(w, r)
	case http.MethodPost:
		h.consent(w, r)
	default:
		jsonwriter.WriteMethodNotAllowed(w)
	}
}

func (h *AuthHandlers) authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Nothing may be redirected anywhere for a request without a client.
	if r.URL.Query().Get("client_id") == "" {
		jsonwriter.WriteBadRequest(w, "Missing client_id")
		return
	}

	// In development mode, generate a state parameter if missing
	// This works around OAuth clients that don't send state
	if envutil.IsDev() && r.URL.Query().Get("state") == "" {
		generated, err := crypto.GenerateSecureToken()
		if err != nil {
			jsonwriter.WriteInternalServerError(w, "Failed to generate state")
			return
		}
		log.LogWarn("Development mode: generating state parameter for client without one")
		q := r.URL.Query()
		q.Set("state", generated)
		r.URL.RawQuery = q.Encode()
		r.Form = nil
	}

	ar, err := h.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		log.LogWarnWithFields("auth", "Invalid authorize request", map[string]any{
			"error": err.Error(),
		})
		h.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	// Resource indicators (RFC 8707) are checked but not granted as audiences:
	// downstream tokens are only ever accepted by this server.
	resources, err := oauth.ExtractResourceParameters(r)
	if err != nil {
		h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrInvalidRequest.WithHint("Invalid resource parameter"))
		return
	}
	for _, resource := range resources {
		if err := oauth.ValidateResourceURI(resource, h.provider.Issuer()); err != nil {
			log.LogWarnWithFields("auth", "Invalid resource URI in authorization request", map[string]any{
				"resource": resource,
				"error":    err.Error(),
			})
			h.provider.WriteAuthorizeError(ctx, w, ar, fosite.ErrInvalidRequest.WithHintf("Invalid resource: %v", err))
			return
		}
	}

	req := authreq.FromAuthorizeRequester(ar)
	state, err := h.states.Encode(req)
	if err != nil {
		log.LogError("Failed to encode authorization state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to encode state")
		return
	}

	if h.approvals.IsApproved(r, req.ClientID) {
		log.LogInfoWithFields("auth", "Client already approved, forwarding to Sentry", map[string]any{
			"client_id": req.ClientID,
		})
		http.Redirect(w, r, h.exchanger.AuthCodeURL(state), http.StatusFound)
		return
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate consent nonce: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to render consent page")
		return
	}
	csrfToken, err := h.csrf.Generate(consentBinding(req.ClientID, nonce))
	if err != nil {
		log.LogError("Failed to generate CSRF token: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to render consent page")
		return
	}
	http.SetCookie(w, cookie.NewConsent(nonce, h.csrf.TTL()))

	h.renderConsent(w, ConsentPageData{
		ClientID:    req.ClientID,
		ClientName:  req.ClientID,
		RedirectURI: req.RedirectURI,
		Scopes:      req.Scope,
		SentryHost:  h.sentryHost,
		State:       state,
		CSRFToken:   csrfToken,
		FormAction:  r.URL.Path,
	})
}

func (h *AuthHandlers) renderConsent(w http.ResponseWriter, data ConsentPageData) {
	var buf bytes.Buffer
	if err := consentPageTemplate.Execute(&buf, data); err != nil {
		log.LogError("Failed to render consent page: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to render consent page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// consentBinding ties a CSRF token to the client being approved and to the
// browser holding the consent nonce cookie.
func consentBinding(clientID, nonce string) string {
	return clientID + "|" + nonce
}

func (h *AuthHandlers) consent(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		log.LogWarn("Rejected cross-site consent submission")
		jsonwriter.WriteError(w, http.StatusForbidden, "forbidden", "Cross-site consent submission")
		return
	}

	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid form")
		return
	}

	state := r.PostFormValue("state")
	req, err := h.states.Decode(state)
	if err != nil {
		log.LogWarnWithFields("auth", "Rejected consent with invalid state", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteBadRequest(w, "Invalid state")
		return
	}

	nonce, err := cookie.GetConsent(r)
	if err != nil || nonce == "" || !h.csrf.Validate(r.PostFormValue("csrf_token"), consentBinding(req.ClientID, nonce)) {
		log.LogWarnWithFields("auth", "Rejected consent with invalid CSRF token", map[string]any{
			"client_id":    req.ClientID,
			"nonce_cookie": err == nil,
		})
		jsonwriter.WriteError(w, http.StatusForbidden, "forbidden", "Invalid CSRF token")
		return
	}

	switch r.PostFormValue("action") {
	case "approve":
	case "deny":
		http.SetCookie(w, cookie.ClearConsent())
		log.LogInfoWithFields("auth", "User denied client", map[string]any{
			"client_id": req.ClientID,
		})
		redirectWithError(w, r, req, "access_denied", "The user denied the request")
		return
	default:
		jsonwriter.WriteBadRequest(w, "Invalid action")
		return
	}

	approvalCookie, err := h.approvals.BuildCookie(r, req.ClientID)
	if err != nil {
		log.LogError("Failed to build approval cookie: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to record approval")
		return
	}
	http.SetCookie(w, approvalCookie)
	http.SetCookie(w, cookie.ClearConsent())
	h.metrics.IncApprovals()

	log.LogInfoWithFields("auth", "Client approved, forwarding to Sentry", map[string]any{
		"client_id": req.ClientID,
	})
	http.Redirect(w, r, h.exchanger.AuthCodeURL(state), http.StatusFound)
}

// CallbackHandler receives the upstream redirect, exchanges the code and
// completes the downstream authorization.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req, err := h.states.Decode(q.Get("state"))
	if err != nil {
		log.LogWarnWithFields("auth", "Rejected callback with invalid state", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteBadRequest(w, "Invalid state")
		return
	}

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		log.LogInfoWithFields("auth", "Sentry returned an authorization error", map[string]any{
			"client_id": req.ClientID,
			"error":     upstreamErr,
		})
		redirectWithError(w, r, req, upstreamErr, q.Get("error_description"))
		return
	}

	code := q.Get("code")
	if code == "" {
		jsonwriter.WriteBadRequest(w, "Missing code")
		return
	}

	token, err := h.exchanger.Exchange(ctx, code)
	if err != nil {
		h.metrics.IncExchangeFailures()
		var exchangeErr *upstreamauth.ExchangeError
		switch {
		case errors.As(err, &exchangeErr):
			jsonwriter.WriteRaw(w, exchangeErr.Status, exchangeErr.ContentType, exchangeErr.Body)
		case errors.Is(err, upstreamauth.ErrCodeReused):
			jsonwriter.WriteBadRequest(w, "Authorization code has already been used")
		default:
			log.LogErrorWithFields("auth", "Token exchange failed", map[string]any{
				"client_id": req.ClientID,
				"error":     err.Error(),
			})
			jsonwriter.WriteBadGateway(w, "Failed to exchange authorization code")
		}
		return
	}

	// The default organization is the first one of the first region.
	client := sentryapi.NewClient(h.sentryHost, token.AccessToken, h.apiOpts...)
	orgs, err := client.ListOrganizations(ctx, sentryapi.RequestOptions{})
	if err != nil {
		writeDiscoveryError(w, err)
		return
	}
	var accountSlug *string
	if len(orgs) > 0 {
		slug := orgs[0].Slug
		accountSlug = &slug
	}

	redirectTo, err := h.provider.CompleteAuthorization(ctx, oauth.CompletionRequest{
		Request:  req,
		UserID:   token.User.ID,
		Metadata: map[string]string{"label": token.User.Name},
		Scope:    req.Scope,
		Props: session.Props{
			AccessToken: token.AccessToken,
			AccountSlug: accountSlug,
			UserID:      token.User.ID,
			UserName:    token.User.Name,
			ClientID:    req.ClientID,
			Scope:       req.Scope,
		},
	})
	if err != nil {
		var rfcErr *fosite.RFC6749Error
		if errors.As(err, &rfcErr) {
			jsonwriter.WriteError(w, rfcErr.CodeField, rfcErr.ErrorField, rfcErr.GetDescription())
			return
		}
		eventID := apperr.LogSystemError(err)
		jsonwriter.WriteSystemError(w, "Failed to complete authorization", eventID)
		return
	}

	h.metrics.IncAuthorizations()
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

func writeDiscoveryError(w http.ResponseWriter, err error) {
	var apiErr *apperr.APIError
	switch {
	case errors.As(err, &apiErr):
		log.LogWarnWithFields("auth", "Organization discovery rejected by Sentry", map[string]any{
			"status": apiErr.Status,
		})
		jsonwriter.WriteBadGateway(w, apiErr.Message)
	default:
		eventID := apperr.LogSystemError(err)
		jsonwriter.WriteSystemError(w, "Failed to resolve Sentry organizations", eventID)
	}
}

// redirectWithError sends the downstream client back to its redirect URI
// with an OAuth error. The URI comes from a verified state.
func redirectWithError(w http.ResponseWriter, r *http.Request, req *authreq.Request, code, description string) {
	target, err := url.Parse(req.RedirectURI)
	if err != nil || req.RedirectURI == "" {
		jsonwriter.WriteBadRequest(w, "Invalid redirect_uri")
		return
	}
	q := target.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if req.State != "" {
		q.Set("state", req.State)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// TokenHandler is the downstream token endpoint.
func (h *AuthHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// fosite fills the session from the stored authorization code or refresh token.
	accessRequest, err := h.provider.NewAccessRequest(ctx, r, oauthsession.New())
	if err != nil {
		log.LogWarnWithFields("auth", "Access request rejected", map[string]any{
			"error": err.Error(),
		})
		h.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	response, err := h.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		log.LogError("Access response error: %v", err)
		h.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	h.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}

// RegisterHandler implements dynamic client registration (RFC 7591).
func (h *AuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w)
		return
	}

	var metadata map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&metadata); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}

	reg, err := oauth.ParseClientRegistration(metadata)
	if err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
		return
	}

	clientID, err := crypto.GenerateSecureToken()
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Failed to create client")
		return
	}

	var (
		client          *storage.Client
		plaintextSecret string
	)
	if reg.Confidential {
		plaintextSecret, err = crypto.GenerateSecureToken()
		if err != nil {
			jsonwriter.WriteInternalServerError(w, "Failed to create client")
			return
		}
		hashedSecret, err := crypto.HashClientSecret(plaintextSecret)
		if err != nil {
			log.LogError("Failed to hash client secret: %v", err)
			jsonwriter.WriteInternalServerError(w, "Failed to create client")
			return
		}
		client, err = h.storage.CreateConfidentialClient(r.Context(), clientID, hashedSecret, reg.RedirectURIs, reg.Scopes, h.provider.Issuer())
		if err != nil {
			log.LogError("Failed to create confidential client: %v", err)
			jsonwriter.WriteInternalServerError(w, "Failed to create client")
			return
		}
	} else {
		client, err = h.storage.CreateClient(r.Context(), clientID, reg.RedirectURIs, reg.Scopes, h.provider.Issuer())
		if err != nil {
			log.LogError("Failed to create client: %v", err)
			jsonwriter.WriteInternalServerError(w, "Failed to create client")
			return
		}
	}

	log.LogInfoWithFields("auth", "Registered client", map[string]any{
		"client_id":    client.ID,
		"confidential": reg.Confidential,
	})

	_ = jsonwriter.WriteResponse(w, http.StatusCreated, oauth.BuildClientMetadata(
		client.ID,
		client.RedirectURIs,
		client.GrantTypes,
		client.ResponseTypes,
		client.Scopes,
		plaintextSecret,
		client.CreatedAt,
	))
}
