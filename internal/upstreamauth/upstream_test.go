package upstreamauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/sentry-mcp/internal/config"
)

func testConfig(host string) config.SentryConfig {
	return config.SentryConfig{
		Host:         host,
		ClientID:     "upstream-client",
		ClientSecret: config.Secret("upstream-secret"),
	}
}

func TestAuthCodeURL(t *testing.T) {
	e := NewExchanger(testConfig("sentry.example.com"), "https://mcp.example.com/")

	u, err := url.Parse(e.AuthCodeURL("state-abc"))
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "sentry.example.com", u.Host)
	assert.Equal(t, "/oauth/authorize/", u.Path)

	q := u.Query()
	assert.Equal(t, "upstream-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "https://mcp.example.com/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "org:read project:write team:write event:write", q.Get("scope"))
	assert.Equal(t, "https://mcp.example.com/oauth/callback", e.CallbackURL())
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "https://sentry.io", Origin("sentry.io"))
	assert.Equal(t, "http://127.0.0.1:9000", Origin("http://127.0.0.1:9000/"))
}

func TestExchange_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth/token/", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
		assert.Equal(t, "the-code", r.FormValue("code"))
		assert.Equal(t, "upstream-client", r.FormValue("client_id"))
		assert.Equal(t, "upstream-secret", r.FormValue("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok123","token_type":"bearer","user":{"id":"1","name":"Jane"}}`))
	}))
	defer srv.Close()

	e := NewExchanger(testConfig(srv.URL), "http://localhost:8788")
	tok, err := e.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "tok123", tok.AccessToken)
	assert.Equal(t, User{ID: "1", Name: "Jane"}, tok.User)
}

func TestExchange_NumericUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t","token_type":"bearer","user":{"id":42,"name":"Bob"}}`))
	}))
	defer srv.Close()

	e := NewExchanger(testConfig(srv.URL), "http://localhost:8788")
	tok, err := e.Exchange(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "42", tok.User.ID)
}

func TestExchange_UpstreamRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	e := NewExchanger(testConfig(srv.URL), "http://localhost:8788")
	_, err := e.Exchange(context.Background(), "bad-code")

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, http.StatusBadRequest, exErr.Status)
	assert.JSONEq(t, `{"error":"invalid_grant"}`, string(exErr.Body))
	assert.Equal(t, int32(1), calls.Load(), "no retry")
}

func TestExchange_ErrorBodyOnSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	e := NewExchanger(testConfig(srv.URL), "http://localhost:8788")
	_, err := e.Exchange(context.Background(), "expired-code")

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, http.StatusBadGateway, exErr.Status)
	assert.Contains(t, string(exErr.Body), "invalid_grant")
}

func TestExchange_CodeCannotBeReused(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t","token_type":"bearer","user":{"id":"1","name":"J"}}`))
	}))
	defer srv.Close()

	e := NewExchanger(testConfig(srv.URL), "http://localhost:8788")
	_, err := e.Exchange(context.Background(), "once")
	require.NoError(t, err)

	_, err = e.Exchange(context.Background(), "once")
	assert.ErrorIs(t, err, ErrCodeReused)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExchange_MissingUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t","token_type":"bearer"}`))
	}))
	defer srv.Close()

	e := NewExchanger(testConfig(srv.URL), "http://localhost:8788")
	_, err := e.Exchange(context.Background(), "c")
	assert.Error(t, err)
}
