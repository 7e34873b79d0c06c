package approval

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/sentry-mcp/internal/cookie"
)

func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestCache_BuildAndCheck(t *testing.T) {
	cache := NewCache([]byte("cookie-secret-0123456789"), time.Hour)

	c, err := cache.BuildCookie(requestWith(nil), "abc")
	require.NoError(t, err)
	assert.Equal(t, cookie.ApprovalCookie, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	r := requestWith(c)
	assert.True(t, cache.IsApproved(r, "abc"))
	assert.False(t, cache.IsApproved(r, "other"))
	assert.False(t, cache.IsApproved(r, ""))
}

func TestCache_MergesExistingApprovals(t *testing.T) {
	cache := NewCache([]byte("cookie-secret-0123456789"), time.Hour)

	first, err := cache.BuildCookie(requestWith(nil), "abc")
	require.NoError(t, err)
	second, err := cache.BuildCookie(requestWith(first), "def")
	require.NoError(t, err)

	r := requestWith(second)
	assert.True(t, cache.IsApproved(r, "abc"))
	assert.True(t, cache.IsApproved(r, "def"))
}

func TestCache_FailsClosed(t *testing.T) {
	cache := NewCache([]byte("cookie-secret-0123456789"), time.Hour)
	other := NewCache([]byte("a-different-secret-value"), time.Hour)

	foreign, err := other.BuildCookie(requestWith(nil), "abc")
	require.NoError(t, err)

	expiredCache := NewCache([]byte("cookie-secret-0123456789"), time.Nanosecond)
	expired, err := expiredCache.BuildCookie(requestWith(nil), "abc")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"wrong secret", foreign},
		{"expired", &http.Cookie{Name: cookie.ApprovalCookie, Value: expired.Value}},
		{"garbage", &http.Cookie{Name: cookie.ApprovalCookie, Value: "not-a-token"}},
		{"unsigned payload", &http.Cookie{Name: cookie.ApprovalCookie, Value: "eyJjbGllbnRzIjpbImFiYyJdfQ."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, cache.IsApproved(requestWith(tt.cookie), "abc"))
		})
	}
}

func TestCache_InvalidCookieIsReplaced(t *testing.T) {
	cache := NewCache([]byte("cookie-secret-0123456789"), time.Hour)
	bad := &http.Cookie{Name: cookie.ApprovalCookie, Value: "garbage"}

	c, err := cache.BuildCookie(requestWith(bad), "abc")
	require.NoError(t, err)
	assert.True(t, cache.IsApproved(requestWith(c), "abc"))
}
