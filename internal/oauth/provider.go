package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"

	"github.com/dgellow/sentry-mcp/internal/authreq"
	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/crypto"
	"github.com/dgellow/sentry-mcp/internal/envutil"
	jsonwriter "github.com/dgellow/sentry-mcp/internal/json"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/oauthsession"
	"github.com/dgellow/sentry-mcp/internal/session"
	"github.com/dgellow/sentry-mcp/internal/storage"
)

// Provider is the downstream-facing OAuth 2.1 authorization server. Its
// tokens are opaque fosite HMAC tokens whose stored session carries the
// sealed session props.
type Provider struct {
	fosite.OAuth2Provider

	store      storage.Storage
	sessions   session.Issuer
	issuer     string
	tokenTTL   time.Duration
	refreshTTL time.Duration
}

// NewProvider creates the authorization server. issuer is this proxy's public origin.
func NewProvider(authConfig config.AuthConfig, issuer string, store storage.Storage, sessions session.Issuer) (*Provider, error) {
	jwtSecret := []byte(authConfig.JWTSecret)
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 bytes long for security, got %d bytes", len(jwtSecret))
	}
	if sessions == nil {
		return nil, errors.New("session issuer is required")
	}

	tokenTTL := authConfig.TokenTTL
	if tokenTTL == 0 {
		tokenTTL = config.DefaultTokenTTL
	}
	refreshTTL := authConfig.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = config.DefaultRefreshTTL
	}

	minEntropy := 8
	if envutil.IsDev() {
		minEntropy = 0
		log.LogWarn("Development mode enabled - OAuth security checks relaxed (state parameter entropy: %d)", minEntropy)
	}

	fositeConfig := &fosite.Config{
		AccessTokenLifespan:            tokenTTL,
		RefreshTokenLifespan:           refreshTTL,
		AuthorizeCodeLifespan:          10 * time.Minute,
		TokenURL:                       strings.TrimSuffix(issuer, "/") + "/oauth/token",
		ScopeStrategy:                  fosite.HierarchicScopeStrategy,
		AudienceMatchingStrategy:       fosite.DefaultAudienceMatchingStrategy,
		EnforcePKCEForPublicClients:    true,
		EnablePKCEPlainChallengeMethod: false,
		MinParameterEntropy:            minEntropy,
		GlobalSecret:                   jwtSecret,
	}

	// Every grant must carry sealed upstream props, so only the authorization
	// code and refresh grants are enabled.
	provider := compose.Compose(
		fositeConfig,
		store,
		&compose.CommonStrategy{
			CoreStrategy: compose.NewOAuth2HMACStrategy(fositeConfig),
		},
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2PKCEFactory,
		compose.OAuth2RefreshTokenGrantFactory,
		compose.OAuth2TokenIntrospectionFactory,
	)

	return &Provider{
		OAuth2Provider: provider,
		store:          store,
		sessions:       sessions,
		issuer:         strings.TrimSuffix(issuer, "/"),
		tokenTTL:       tokenTTL,
		refreshTTL:     refreshTTL,
	}, nil
}

// Issuer returns the public origin the provider issues tokens for.
func (p *Provider) Issuer() string {
	return p.issuer
}

// CompletionRequest is everything needed to finish a downstream
// authorization once the upstream has authenticated the user.
type CompletionRequest struct {
	Request  *authreq.Request
	UserID   string
	Metadata map[string]string
	Scope    []string
	Props    session.Props
}

// CompleteAuthorization seals props, mints a downstream authorization code
// for the original request and returns the URL the client must be sent to.
func (p *Provider) CompleteAuthorization(ctx context.Context, req CompletionRequest) (string, error) {
	if req.Request == nil || req.Request.ClientID == "" {
		return "", authreq.ErrMissingClientID
	}
	if req.UserID == "" {
		return "", errors.New("user id is required")
	}

	client, err := p.store.GetClient(ctx, req.Request.ClientID)
	if err != nil {
		return "", fosite.ErrInvalidClient.WithWrap(err).WithHint("The requested OAuth 2.0 Client does not exist.")
	}

	redirectURI, err := url.Parse(req.Request.RedirectURI)
	if err != nil || !slices.Contains(client.GetRedirectURIs(), req.Request.RedirectURI) {
		return "", fosite.ErrInvalidRequest.WithHint("The redirect_uri is not registered for this client.")
	}

	sealed, err := p.sessions.Issue(ctx, req.Props)
	if err != nil {
		return "", fmt.Errorf("sealing session props: %w", err)
	}

	requestID, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", err
	}

	responseType := req.Request.ResponseType
	if responseType == "" {
		responseType = "code"
	}

	now := time.Now()
	sess := &oauthsession.Session{
		DefaultSession: &fosite.DefaultSession{
			Subject:  req.UserID,
			Username: req.Metadata["label"],
			ExpiresAt: map[fosite.TokenType]time.Time{
				fosite.AccessToken:  now.Add(p.tokenTTL),
				fosite.RefreshToken: now.Add(p.refreshTTL),
			},
		},
		SealedProps: sealed,
		UserID:      req.UserID,
		UserName:    req.Metadata["label"],
	}

	form := url.Values{"redirect_uri": {req.Request.RedirectURI}}
	if req.Request.CodeChallenge != "" {
		form.Set("code_challenge", req.Request.CodeChallenge)
		form.Set("code_challenge_method", req.Request.CodeChallengeMethod)
	}

	ar := &fosite.AuthorizeRequest{
		ResponseTypes:        fosite.Arguments(strings.Fields(responseType)),
		RedirectURI:          redirectURI,
		State:                req.Request.State,
		HandledResponseTypes: fosite.Arguments{},
		Request: fosite.Request{
			ID:             requestID,
			RequestedAt:    now,
			Client:         client,
			RequestedScope: fosite.Arguments(req.Request.Scope),
			GrantedScope:   fosite.Arguments(req.Scope),
			Form:           form,
			Session:        sess,
		},
	}

	response, err := p.NewAuthorizeResponse(ctx, ar, sess)
	if err != nil {
		return "", err
	}

	redirectTo := *redirectURI
	q := redirectTo.Query()
	for k, vs := range response.GetParameters() {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	redirectTo.RawQuery = q.Encode()

	log.LogInfoWithFields("oauth", "Authorization completed", map[string]any{
		"client_id": req.Request.ClientID,
		"user_id":   req.UserID,
		"scope":     strings.Join(req.Scope, " "),
	})
	return redirectTo.String(), nil
}

// ResolveToken introspects a downstream access token and opens the session
// props stored with it.
func (p *Provider) ResolveToken(ctx context.Context, token string) (*session.Props, error) {
	// The props must be read from the returned requester, the session passed
	// in is not populated by fosite.
	_, accessRequest, err := p.IntrospectToken(ctx, token, fosite.AccessToken, oauthsession.New())
	if err != nil {
		return nil, err
	}
	sess, ok := accessRequest.GetSession().(*oauthsession.Session)
	if !ok || sess.SealedProps == "" {
		return nil, errors.New("token has no session")
	}
	return p.sessions.Resolve(ctx, sess.SealedProps)
}

// NewValidateTokenMiddleware rejects requests without a valid bearer token
// and makes the resolved session props available on the request context.
func NewValidateTokenMiddleware(p *Provider) func(http.Handler) http.Handler {
	metadataURI := ProtectedResourceMetadataURI(p.issuer)
	unauthorized := func(w http.ResponseWriter, msg string) {
		jsonwriter.WriteUnauthorizedRFC9728(w, msg, metadataURI)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(auth, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				unauthorized(w, "Invalid authorization header format")
				return
			}

			props, err := p.ResolveToken(r.Context(), token)
			if err != nil {
				log.LogDebugWithFields("oauth", "Rejected bearer token", map[string]any{
					"error": err.Error(),
				})
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(session.WithProps(r.Context(), props)))
		})
	}
}
