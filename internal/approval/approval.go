// Package approval remembers which downstream clients the browser has
// already consented to, using a signed cookie instead of server state.
package approval

import (
	"net/http"
	"slices"
	"time"

	"github.com/dgellow/sentry-mcp/internal/cookie"
	"github.com/dgellow/sentry-mcp/internal/crypto"
	"github.com/dgellow/sentry-mcp/internal/log"
)

// record is the signed cookie payload. Expiry is carried by the signer.
type record struct {
	Clients []string `json:"clients"`
}

// Cache checks and mints approval cookies.
type Cache struct {
	signer crypto.TokenSigner
	ttl    time.Duration
}

// NewCache creates a cache whose cookies are signed with secret and expire after ttl.
func NewCache(secret []byte, ttl time.Duration) *Cache {
	return &Cache{
		signer: crypto.NewTokenSigner(secret, ttl),
		ttl:    ttl,
	}
}

// approved returns the verified client list from the request cookie, or nil.
func (c *Cache) approved(r *http.Request) []string {
	value, err := cookie.GetApproval(r)
	if err != nil || value == "" {
		return nil
	}
	var rec record
	if err := c.signer.Verify(value, &rec); err != nil {
		log.LogDebugWithFields("approval", "Ignoring approval cookie", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return rec.Clients
}

// IsApproved reports whether the request carries a valid approval for
// clientID. Any verification failure means not approved.
func (c *Cache) IsApproved(r *http.Request, clientID string) bool {
	if clientID == "" {
		return false
	}
	return slices.Contains(c.approved(r), clientID)
}

// BuildCookie returns a fresh approval cookie granting clientID, keeping any
// still-valid approvals already present on the request.
func (c *Cache) BuildCookie(r *http.Request, clientID string) (*http.Cookie, error) {
	clients := c.approved(r)
	if !slices.Contains(clients, clientID) {
		clients = append(clients, clientID)
	}
	value, err := c.signer.Sign(record{Clients: clients})
	if err != nil {
		return nil, err
	}
	return cookie.NewApproval(value, c.ttl), nil
}
