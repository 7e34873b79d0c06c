package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/sentry-mcp/internal/envutil"
	"github.com/dgellow/sentry-mcp/internal/log"
)

// ApprovalCookie holds the signed list of clients the browser consented to.
const ApprovalCookie = "mcp-approved-clients"

// approvalPath limits the cookie to the endpoint that reads and rewrites it.
const approvalPath = "/oauth/authorize"

// NewApproval builds the approval cookie. It is only sent back to the
// authorize endpoint and is Secure outside development.
func NewApproval(value string, maxAge time.Duration) *http.Cookie {
	secure := !envutil.IsDev()
	log.LogTraceWithFields("cookie", "Approval cookie built", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
	return &http.Cookie{
		Name:     ApprovalCookie,
		Value:    value,
		Path:     approvalPath,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// GetApproval returns the raw approval cookie value, or http.ErrNoCookie.
func GetApproval(r *http.Request) (string, error) {
	c, err := r.Cookie(ApprovalCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// ConsentCookie holds the nonce the consent form's CSRF token is bound to.
const ConsentCookie = "mcp-consent-nonce"

// NewConsent builds the consent nonce cookie. SameSite=Strict keeps it off
// form posts that start on another site.
func NewConsent(nonce string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     ConsentCookie,
		Value:    nonce,
		Path:     approvalPath,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearConsent expires the consent nonce cookie once the form was answered.
func ClearConsent() *http.Cookie {
	c := NewConsent("", 0)
	c.MaxAge = -1
	return c
}

// GetConsent returns the consent nonce, or http.ErrNoCookie.
func GetConsent(r *http.Request) (string, error) {
	c, err := r.Cookie(ConsentCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
