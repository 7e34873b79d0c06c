package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApproval(t *testing.T) {
	t.Setenv("SENTRY_MCP_ENV", "")

	c := NewApproval("signed", 24*time.Hour)
	assert.Equal(t, ApprovalCookie, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 86400, c.MaxAge)
	assert.Equal(t, "/oauth/authorize", c.Path)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestNewApproval_DevInsecure(t *testing.T) {
	t.Setenv("SENTRY_MCP_ENV", "development")
	assert.False(t, NewApproval("signed", time.Hour).Secure)
}

func TestGetApproval(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	_, err := GetApproval(r)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	r.AddCookie(&http.Cookie{Name: ApprovalCookie, Value: "v"})
	v, err := GetApproval(r)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestNewConsent(t *testing.T) {
	t.Setenv("SENTRY_MCP_ENV", "")

	c := NewConsent("nonce", 10*time.Minute)
	assert.Equal(t, ConsentCookie, c.Name)
	assert.Equal(t, "nonce", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 600, c.MaxAge)
	assert.Equal(t, "/oauth/authorize", c.Path)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)

	cleared := ClearConsent()
	assert.Equal(t, ConsentCookie, cleared.Name)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestGetConsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/oauth/authorize", nil)
	_, err := GetConsent(r)
	assert.ErrorIs(t, err, http.ErrNoCookie)

	r.AddCookie(&http.Cookie{Name: ConsentCookie, Value: "n"})
	v, err := GetConsent(r)
	require.NoError(t, err)
	assert.Equal(t, "n", v)
}
