package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/sentry-mcp/internal/approval"
	"github.com/dgellow/sentry-mcp/internal/authreq"
	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/cookie"
	"github.com/dgellow/sentry-mcp/internal/crypto"
	"github.com/dgellow/sentry-mcp/internal/metrics"
	"github.com/dgellow/sentry-mcp/internal/oauth"
	"github.com/dgellow/sentry-mcp/internal/session"
	"github.com/dgellow/sentry-mcp/internal/storage"
	"github.com/dgellow/sentry-mcp/internal/upstreamauth"
)

const (
	testIssuer      = "https://mcp.example.com"
	testClientID    = "client-abc"
	testRedirectURI = "https://client.example.com/callback"
	testState       = "downstream-state-1234"
	testVerifier    = "verifier-verifier-verifier-verifier-verifier-0123"
)

// fakeSentry serves the upstream token endpoint and the account discovery
// API from one httptest server.
type fakeSentry struct {
	srv *httptest.Server

	tokenStatus int
	tokenBody   string

	tokenCalls     atomic.Int32
	discoveryCalls atomic.Int32
}

func newFakeSentry(t *testing.T) *fakeSentry {
	t.Helper()
	f := &fakeSentry{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if f.tokenStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(f.tokenBody))
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"access_token": "tok123",
			"token_type":   "bearer",
			"user":         map[string]any{"id": "1", "name": "Jane"},
		})
	})
	mux.HandleFunc("/api/0/users/me/regions/", func(w http.ResponseWriter, r *http.Request) {
		f.discoveryCalls.Add(1)
		writeTestJSON(w, http.StatusOK, map[string]any{
			"regions": []any{map[string]any{"name": "us", "url": f.srv.URL}},
		})
	})
	mux.HandleFunc("/api/0/organizations/", func(w http.ResponseWriter, r *http.Request) {
		f.discoveryCalls.Add(1)
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		writeTestJSON(w, http.StatusOK, []any{map[string]any{
			"id":   "1",
			"slug": "acme",
			"name": "Acme",
			"links": map[string]any{
				"regionUrl":       f.srv.URL,
				"organizationUrl": "https://acme.sentry.io",
			},
		}})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type authFixture struct {
	handlers  *AuthHandlers
	provider  *oauth.Provider
	store     *storage.MemoryStorage
	approvals *approval.Cache
	states    *authreq.Codec
	csrf      crypto.CSRFProtection
	registry  *prometheus.Registry
	sentry    *fakeSentry
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	sentry := newFakeSentry(t)

	store := storage.NewMemoryStorage()
	_, err := store.CreateClient(context.Background(), testClientID, []string{testRedirectURI}, config.DefaultScopes, testIssuer)
	require.NoError(t, err)

	sessions, err := session.NewJWEIssuer([]byte(strings.Repeat("k", 32)), time.Hour)
	require.NoError(t, err)

	provider, err := oauth.NewProvider(config.AuthConfig{
		JWTSecret: config.Secret(strings.Repeat("j", 32)),
		TokenTTL:  time.Hour,
	}, testIssuer, store, sessions)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &authFixture{
		provider:  provider,
		store:     store,
		approvals: approval.NewCache([]byte("approval-secret-approval-secret!"), time.Hour),
		states:    authreq.NewCodec([]byte("state-secret-state-secret-state!"), 10*time.Minute),
		csrf:      crypto.NewCSRFProtection([]byte("csrf-secret-csrf-secret-csrf-sec"), 10*time.Minute),
		registry:  reg,
		sentry:    sentry,
	}
	f.handlers = NewAuthHandlers(
		provider,
		store,
		f.approvals,
		f.states,
		upstreamauth.NewExchanger(config.SentryConfig{
			Host:         sentry.srv.URL,
			ClientID:     "upstream-client",
			ClientSecret: "upstream-secret",
		}, testIssuer),
		f.csrf,
		sentry.srv.URL,
		WithAuthMetrics(metrics.New(reg)),
	)
	return f
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func authorizeQuery() url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"org:read project:write"},
		"state":                 {testState},
		"code_challenge":        {pkceChallenge(testVerifier)},
		"code_challenge_method": {"S256"},
	}
}

func (f *authFixture) encodedState(t *testing.T) string {
	t.Helper()
	state, err := f.states.Encode(&authreq.Request{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               []string{"org:read", "project:write"},
		State:               testState,
		ResponseType:        "code",
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	return state
}

// consentToken mints a CSRF token for clientID together with the nonce
// cookie a browser would have received with the consent page.
func (f *authFixture) consentToken(t *testing.T, clientID string) (string, *http.Cookie) {
	t.Helper()
	nonce, err := crypto.GenerateSecureToken()
	require.NoError(t, err)
	token, err := f.csrf.Generate(consentBinding(clientID, nonce))
	require.NoError(t, err)
	return token, cookie.NewConsent(nonce, time.Minute)
}

func consentForm(state, csrfToken, action string, cookies ...*http.Cookie) *http.Request {
	form := url.Values{"state": {state}, "csrf_token": {csrfToken}, "action": {action}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthorize_MissingClientID(t *testing.T) {
	f := newAuthFixture(t)
	q := authorizeQuery()
	q.Del("client_id")

	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))
}

func TestAuthorize_UnregisteredRedirectURI(t *testing.T) {
	f := newAuthFixture(t)
	q := authorizeQuery()
	q.Set("redirect_uri", "https://evil.example.com/callback")

	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotContains(t, rr.Header().Get("Location"), "evil.example.com")
}

func TestAuthorize_RendersConsentWithoutApproval(t *testing.T) {
	f := newAuthFixture(t)

	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authorizeQuery().Encode(), nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	body := rr.Body.String()
	assert.Contains(t, body, testClientID)
	assert.Contains(t, body, `name="state"`)
	assert.Contains(t, body, `name="csrf_token"`)
	assert.Contains(t, body, "org:read")

	nonce := findCookie(rr, cookie.ConsentCookie)
	require.NotNil(t, nonce)
	assert.NotEmpty(t, nonce.Value)
	assert.True(t, nonce.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, nonce.SameSite)
}

func TestConsent_PageTokenNeedsItsBrowserCookie(t *testing.T) {
	f := newAuthFixture(t)

	// Render the consent page and pull the hidden form fields out of it.
	page := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(page, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authorizeQuery().Encode(), nil))
	require.Equal(t, http.StatusOK, page.Code)
	state := hiddenField(t, page.Body.String(), "state")
	csrfToken := hiddenField(t, page.Body.String(), "csrf_token")
	nonce := findCookie(page, cookie.ConsentCookie)
	require.NotNil(t, nonce)

	t.Run("without the cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		f.handlers.AuthorizeHandler(rr, consentForm(state, csrfToken, "approve"))
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Empty(t, rr.Header().Get("Location"))
		assert.Nil(t, findCookie(rr, cookie.ApprovalCookie))
	})

	t.Run("with another browser's cookie", func(t *testing.T) {
		_, other := f.consentToken(t, testClientID)
		rr := httptest.NewRecorder()
		f.handlers.AuthorizeHandler(rr, consentForm(state, csrfToken, "approve", other))
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Nil(t, findCookie(rr, cookie.ApprovalCookie))
	})

	t.Run("cross-site submission", func(t *testing.T) {
		req := consentForm(state, csrfToken, "approve", nonce)
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		rr := httptest.NewRecorder()
		f.handlers.AuthorizeHandler(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Nil(t, findCookie(rr, cookie.ApprovalCookie))
	})

	t.Run("same browser", func(t *testing.T) {
		req := consentForm(state, csrfToken, "approve", nonce)
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		rr := httptest.NewRecorder()
		f.handlers.AuthorizeHandler(rr, req)
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.NotNil(t, findCookie(rr, cookie.ApprovalCookie))
	})
}

func hiddenField(t *testing.T, body, name string) string {
	t.Helper()
	marker := `name="` + name + `" value="`
	_, rest, ok := strings.Cut(body, marker)
	require.True(t, ok, "field %s not rendered", name)
	value, _, ok := strings.Cut(rest, `"`)
	require.True(t, ok)
	return html.UnescapeString(value)
}

func TestAuthorize_ApprovedClientGoesStraightUpstream(t *testing.T) {
	f := newAuthFixture(t)
	c, err := f.approvals.BuildCookie(httptest.NewRequest(http.MethodGet, "/", nil), testClientID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authorizeQuery().Encode(), nil)
	req.AddCookie(c)
	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize/", location.Path)
	assert.Equal(t, "upstream-client", location.Query().Get("client_id"))
	assert.Equal(t, testIssuer+"/oauth/callback", location.Query().Get("redirect_uri"))

	decoded, err := f.states.Decode(location.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, testClientID, decoded.ClientID)
	assert.Equal(t, testRedirectURI, decoded.RedirectURI)
	assert.Equal(t, testState, decoded.State)
	assert.Equal(t, []string{"org:read", "project:write"}, decoded.Scope)
}

func TestAuthorize_ApprovalForOtherClientShowsConsent(t *testing.T) {
	f := newAuthFixture(t)
	c, err := f.approvals.BuildCookie(httptest.NewRequest(http.MethodGet, "/", nil), "someone-else")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authorizeQuery().Encode(), nil)
	req.AddCookie(c)
	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestConsent_Approve(t *testing.T) {
	f := newAuthFixture(t)
	state := f.encodedState(t)
	csrfToken, nonce := f.consentToken(t, testClientID)

	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, consentForm(state, csrfToken, "approve", nonce))

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize/", location.Path)
	assert.Equal(t, state, location.Query().Get("state"))

	approvalCookie := findCookie(rr, cookie.ApprovalCookie)
	require.NotNil(t, approvalCookie)
	assert.True(t, approvalCookie.HttpOnly)
	cleared := findCookie(rr, cookie.ConsentCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(approvalCookie)
	assert.True(t, f.approvals.IsApproved(next, testClientID))
	assert.False(t, f.approvals.IsApproved(next, "someone-else"))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.handlers.metrics.ApprovalsGranted))
}

func TestConsent_Deny(t *testing.T) {
	f := newAuthFixture(t)
	csrfToken, nonce := f.consentToken(t, testClientID)

	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, consentForm(f.encodedState(t), csrfToken, "deny", nonce))

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", location.Host)
	assert.Equal(t, "access_denied", location.Query().Get("error"))
	assert.Equal(t, testState, location.Query().Get("state"))
	assert.Nil(t, findCookie(rr, cookie.ApprovalCookie))
}

func TestConsent_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	goodCSRF, nonce := f.consentToken(t, testClientID)
	otherCSRF, otherNonce := f.consentToken(t, "someone-else")

	tests := []struct {
		name   string
		state  string
		csrf   string
		nonce  *http.Cookie
		action string
		status int
	}{
		{"tampered state", f.encodedState(t) + "x", goodCSRF, nonce, "approve", http.StatusBadRequest},
		{"missing state", "", goodCSRF, nonce, "approve", http.StatusBadRequest},
		{"csrf for another client", f.encodedState(t), otherCSRF, otherNonce, "approve", http.StatusForbidden},
		{"missing csrf", f.encodedState(t), "", nonce, "approve", http.StatusForbidden},
		{"missing nonce cookie", f.encodedState(t), goodCSRF, nil, "approve", http.StatusForbidden},
		{"unknown action", f.encodedState(t), goodCSRF, nonce, "maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.nonce != nil {
				cookies = append(cookies, tt.nonce)
			}
			rr := httptest.NewRecorder()
			f.handlers.AuthorizeHandler(rr, consentForm(tt.state, tt.csrf, tt.action, cookies...))

			assert.Equal(t, tt.status, rr.Code)
			assert.Empty(t, rr.Header().Get("Location"))
			assert.Empty(t, rr.Result().Cookies())
		})
	}
}

func TestAuthorize_MethodNotAllowed(t *testing.T) {
	f := newAuthFixture(t)
	rr := httptest.NewRecorder()
	f.handlers.AuthorizeHandler(rr, httptest.NewRequest(http.MethodPut, "/oauth/authorize", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func callback(f *authFixture, query url.Values) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handlers.CallbackHandler(rr, httptest.NewRequest(http.MethodGet, "/oauth/callback?"+query.Encode(), nil))
	return rr
}

func TestCallback_CompletesAuthorization(t *testing.T) {
	f := newAuthFixture(t)

	rr := callback(f, url.Values{"code": {"upstream-code"}, "state": {f.encodedState(t)}})

	require.Equal(t, http.StatusFound, rr.Code, rr.Body.String())
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client.example.com", location.Host)
	assert.Equal(t, testState, location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.handlers.metrics.AuthorizationsComplete))

	// Redeem the downstream code the way an agent would.
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"code_verifier": {testVerifier},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRR := httptest.NewRecorder()
	f.handlers.TokenHandler(tokenRR, tokenReq)
	require.Equal(t, http.StatusOK, tokenRR.Code, tokenRR.Body.String())

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(tokenRR.Body.Bytes(), &tokenResp))
	assert.NotEmpty(t, tokenResp.RefreshToken)
	assert.Equal(t, "bearer", strings.ToLower(tokenResp.TokenType))

	props, err := f.provider.ResolveToken(context.Background(), tokenResp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tok123", props.AccessToken)
	require.NotNil(t, props.AccountSlug)
	assert.Equal(t, "acme", *props.AccountSlug)
	assert.Equal(t, "1", props.UserID)
	assert.Equal(t, "Jane", props.UserName)
	assert.Equal(t, testClientID, props.ClientID)
}

func TestCallback_WrongVerifierRejected(t *testing.T) {
	f := newAuthFixture(t)
	rr := callback(f, url.Values{"code": {"upstream-code"}, "state": {f.encodedState(t)}})
	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {location.Query().Get("code")},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"code_verifier": {strings.Repeat("z", 48)},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRR := httptest.NewRecorder()
	f.handlers.TokenHandler(tokenRR, tokenReq)

	assert.Equal(t, http.StatusBadRequest, tokenRR.Code)
	assert.Contains(t, tokenRR.Body.String(), "invalid_grant")
}

func TestCallback_InvalidState(t *testing.T) {
	f := newAuthFixture(t)

	for _, state := range []string{"", "garbage", f.encodedState(t) + "x"} {
		rr := callback(f, url.Values{"code": {"upstream-code"}, "state": {state}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, rr.Header().Get("Location"))
	}
	assert.Zero(t, f.sentry.tokenCalls.Load())
}

func TestCallback_MissingCode(t *testing.T) {
	f := newAuthFixture(t)
	rr := callback(f, url.Values{"state": {f.encodedState(t)}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, f.sentry.tokenCalls.Load())
}

func TestCallback_UpstreamErrorRedirectsToClient(t *testing.T) {
	f := newAuthFixture(t)
	rr := callback(f, url.Values{
		"error":             {"access_denied"},
		"error_description": {"User declined"},
		"state":             {f.encodedState(t)},
	})

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", location.Query().Get("error"))
	assert.Equal(t, "User declined", location.Query().Get("error_description"))
	assert.Equal(t, testState, location.Query().Get("state"))
	assert.Zero(t, f.sentry.tokenCalls.Load())
}

func TestCallback_ExchangeFailureRelayedVerbatim(t *testing.T) {
	f := newAuthFixture(t)
	f.sentry.tokenStatus = http.StatusUnauthorized
	f.sentry.tokenBody = `{"error":"invalid_grant","error_description":"bad code"}`

	rr := callback(f, url.Values{"code": {"upstream-code"}, "state": {f.encodedState(t)}})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, f.sentry.tokenBody, rr.Body.String())
	assert.Empty(t, rr.Header().Get("Location"))
	assert.Zero(t, f.sentry.discoveryCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.handlers.metrics.TokenExchangeFailures))
}

func TestCallback_CodeReuseRejected(t *testing.T) {
	f := newAuthFixture(t)
	query := url.Values{"code": {"upstream-code"}, "state": {f.encodedState(t)}}

	first := callback(f, query)
	require.Equal(t, http.StatusFound, first.Code)

	second := callback(f, query)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, int32(1), f.sentry.tokenCalls.Load())
}

func TestRegisterHandler(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		status       int
		expectSecret bool
	}{
		{
			name:   "public client",
			body:   `{"redirect_uris":["https://app.example.com/cb"],"token_endpoint_auth_method":"none"}`,
			status: http.StatusCreated,
		},
		{
			name:         "confidential client",
			body:         `{"redirect_uris":["https://app.example.com/cb"],"token_endpoint_auth_method":"client_secret_post"}`,
			status:       http.StatusCreated,
			expectSecret: true,
		},
		{
			name:   "missing redirect uris",
			body:   `{}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed body",
			body:   `{"redirect_uris":`,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			rr := httptest.NewRecorder()
			f.handlers.RegisterHandler(rr, httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(tt.body)))

			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status != http.StatusCreated {
				return
			}

			var resp map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			clientID, _ := resp["client_id"].(string)
			require.NotEmpty(t, clientID)
			assert.Equal(t, []any{"https://app.example.com/cb"}, resp["redirect_uris"])

			stored, err := f.store.GetClientWithMetadata(context.Background(), clientID)
			require.NoError(t, err)
			if tt.expectSecret {
				secret, _ := resp["client_secret"].(string)
				assert.NotEmpty(t, secret)
				assert.False(t, stored.Public)
				assert.NotEqual(t, []byte(secret), stored.Secret)
			} else {
				assert.Nil(t, resp["client_secret"])
				assert.True(t, stored.Public)
			}
		})
	}
}

func TestRegisterHandler_MethodNotAllowed(t *testing.T) {
	f := newAuthFixture(t)
	rr := httptest.NewRecorder()
	f.handlers.RegisterHandler(rr, httptest.NewRequest(http.MethodGet, "/oauth/register", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestClientMetadataHandler(t *testing.T) {
	f := newAuthFixture(t)

	t.Run("known client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/oauth/register/"+testClientID, nil)
		req.SetPathValue("client_id", testClientID)
		rr := httptest.NewRecorder()
		f.handlers.ClientMetadataHandler(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, testClientID, resp["client_id"])
		assert.Nil(t, resp["client_secret"])
	})

	t.Run("unknown client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/oauth/register/nope", nil)
		req.SetPathValue("client_id", "nope")
		rr := httptest.NewRecorder()
		f.handlers.ClientMetadataHandler(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestWellKnownHandlers(t *testing.T) {
	f := newAuthFixture(t)

	rr := httptest.NewRecorder()
	f.handlers.WellKnownHandler(rr, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var asMeta map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &asMeta))
	assert.Equal(t, testIssuer, asMeta["issuer"])
	assert.Equal(t, testIssuer+"/oauth/authorize", asMeta["authorization_endpoint"])
	assert.Equal(t, testIssuer+"/oauth/token", asMeta["token_endpoint"])
	assert.Equal(t, testIssuer+"/oauth/register", asMeta["registration_endpoint"])
	assert.Contains(t, asMeta["code_challenge_methods_supported"], "S256")

	rr = httptest.NewRecorder()
	f.handlers.ProtectedResourceMetadataHandler(rr, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var prMeta map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &prMeta))
	assert.Equal(t, testIssuer+"/mcp", prMeta["resource"])
	assert.Equal(t, []any{testIssuer}, prMeta["authorization_servers"])
}
