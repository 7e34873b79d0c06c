package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/sentry-mcp/internal/authreq"
	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/crypto"
	"github.com/dgellow/sentry-mcp/internal/oauthsession"
	"github.com/dgellow/sentry-mcp/internal/session"
	"github.com/dgellow/sentry-mcp/internal/storage"
)

const (
	testIssuer   = "https://mcp.example.com"
	testRedirect = "http://localhost:6274/callback"
)

var testVerifier = strings.Repeat("abcdefgh", 6)

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newTestProvider(t *testing.T) (*Provider, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	issuer, err := session.NewJWEIssuer([]byte(strings.Repeat("k", 32)), time.Hour)
	require.NoError(t, err)

	p, err := NewProvider(config.AuthConfig{
		JWTSecret: config.Secret(strings.Repeat("j", 32)),
		TokenTTL:  time.Hour,
	}, testIssuer, store, issuer)
	require.NoError(t, err)

	_, err = store.CreateClient(context.Background(), "abc", []string{testRedirect}, config.DefaultScopes, testIssuer)
	require.NoError(t, err)
	return p, store
}

func testRequest() *authreq.Request {
	return &authreq.Request{
		ClientID:            "abc",
		RedirectURI:         testRedirect,
		Scope:               []string{"org:read"},
		State:               "downstream-state-1234",
		ResponseType:        "code",
		CodeChallenge:       pkceChallenge(testVerifier),
		CodeChallengeMethod: "S256",
	}
}

func TestNewProvider(t *testing.T) {
	store := storage.NewMemoryStorage()
	issuer, err := session.NewJWEIssuer([]byte(strings.Repeat("k", 32)), time.Hour)
	require.NoError(t, err)

	_, err = NewProvider(config.AuthConfig{JWTSecret: "short"}, testIssuer, store, issuer)
	assert.ErrorContains(t, err, "JWT secret must be at least 32 bytes")

	_, err = NewProvider(config.AuthConfig{JWTSecret: config.Secret(strings.Repeat("j", 32))}, testIssuer, store, nil)
	assert.Error(t, err)

	p, err := NewProvider(config.AuthConfig{JWTSecret: config.Secret(strings.Repeat("j", 32))}, testIssuer+"/", store, issuer)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, p.Issuer())
	assert.Equal(t, config.DefaultTokenTTL, p.tokenTTL)
	assert.Equal(t, config.DefaultRefreshTTL, p.refreshTTL)
}

func TestCompleteAuthorization_FullFlow(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	slug := "acme"

	redirectTo, err := p.CompleteAuthorization(ctx, CompletionRequest{
		Request:  testRequest(),
		UserID:   "1",
		Metadata: map[string]string{"label": "Jane"},
		Scope:    []string{"org:read"},
		Props: session.Props{
			AccessToken: "tok123",
			AccountSlug: &slug,
			UserID:      "1",
			UserName:    "Jane",
			ClientID:    "abc",
			Scope:       []string{"org:read"},
		},
	})
	require.NoError(t, err)

	u, err := url.Parse(redirectTo)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6274", u.Host)
	assert.Equal(t, "/callback", u.Path)
	assert.Equal(t, "downstream-state-1234", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	assert.NotContains(t, redirectTo, "tok123")

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirect},
		"client_id":     {"abc"},
		"code_verifier": {testVerifier},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	accessReq, err := p.NewAccessRequest(ctx, r, oauthsession.New())
	require.NoError(t, err)
	resp, err := p.NewAccessResponse(ctx, accessReq)
	require.NoError(t, err)
	token := resp.GetAccessToken()
	require.NotEmpty(t, token)

	props, err := p.ResolveToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "tok123", props.AccessToken)
	require.NotNil(t, props.AccountSlug)
	assert.Equal(t, "acme", *props.AccountSlug)
	assert.Equal(t, "Jane", props.UserName)

	_, err = p.ResolveToken(ctx, "not-a-token")
	assert.Error(t, err)
}

func TestCompleteAuthorization_Rejects(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.CompleteAuthorization(ctx, CompletionRequest{Request: &authreq.Request{}, UserID: "1"})
	assert.ErrorIs(t, err, authreq.ErrMissingClientID)

	unknown := testRequest()
	unknown.ClientID = "nope"
	_, err = p.CompleteAuthorization(ctx, CompletionRequest{Request: unknown, UserID: "1"})
	assert.Error(t, err)

	wrongRedirect := testRequest()
	wrongRedirect.RedirectURI = "https://evil.example.com/cb"
	_, err = p.CompleteAuthorization(ctx, CompletionRequest{Request: wrongRedirect, UserID: "1"})
	assert.Error(t, err)

	_, err = p.CompleteAuthorization(ctx, CompletionRequest{Request: testRequest()})
	assert.Error(t, err)
}

func TestValidateTokenMiddleware(t *testing.T) {
	p, _ := newTestProvider(t)

	var reached bool
	handler := NewValidateTokenMiddleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		_, ok := session.FromContext(r.Context())
		assert.True(t, ok)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"unknown token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), "/.well-known/oauth-protected-resource")
		})
	}
	assert.False(t, reached)
}

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) Issue(ctx context.Context, props session.Props) (string, error) {
	args := m.Called(ctx, props)
	return args.String(0), args.Error(1)
}

func (m *mockIssuer) Resolve(ctx context.Context, sealed string) (*session.Props, error) {
	args := m.Called(ctx, sealed)
	props, _ := args.Get(0).(*session.Props)
	return props, args.Error(1)
}

func TestCompleteAuthorization_SealFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	_, err := store.CreateClient(context.Background(), "abc", []string{testRedirect}, config.DefaultScopes, testIssuer)
	require.NoError(t, err)

	issuer := &mockIssuer{}
	issuer.On("Issue", mock.Anything, mock.MatchedBy(func(p session.Props) bool {
		return p.AccessToken == "tok123"
	})).Return("", assert.AnError)

	p, err := NewProvider(config.AuthConfig{JWTSecret: config.Secret(strings.Repeat("j", 32))}, testIssuer, store, issuer)
	require.NoError(t, err)

	_, err = p.CompleteAuthorization(context.Background(), CompletionRequest{
		Request: testRequest(),
		UserID:  "1",
		Scope:   []string{"org:read"},
		Props:   session.Props{AccessToken: "tok123", UserID: "1"},
	})
	assert.ErrorIs(t, err, assert.AnError)
	issuer.AssertExpectations(t)
	issuer.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestClientCredentialsGrantUnsupported(t *testing.T) {
	p, store := newTestProvider(t)
	ctx := context.Background()

	hashed, err := crypto.HashClientSecret("s3cret")
	require.NoError(t, err)
	client, err := store.CreateConfidentialClient(ctx, "confidential", hashed, []string{testRedirect}, config.DefaultScopes, testIssuer)
	require.NoError(t, err)
	// Even a client registered for the grant gets no token: nothing could
	// resolve it to upstream credentials.
	client.GrantTypes = append(client.GrantTypes, "client_credentials")

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"confidential"},
		"client_secret": {"s3cret"},
		"scope":         {"org:read"},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = p.NewAccessRequest(ctx, r, oauthsession.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, fosite.ErrUnsupportedGrantType)
}
