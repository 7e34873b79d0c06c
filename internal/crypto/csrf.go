package crypto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CSRFProtection issues stateless tokens for the consent form. A token is
// nonce:issuedAt:mac where the mac also covers a binding supplied by the
// caller, the client id being approved. A token minted for one client does
// not validate for another.
type CSRFProtection struct {
	signingKey []byte
	ttl        time.Duration
}

// NewCSRFProtection creates a new CSRF protection instance
func NewCSRFProtection(signingKey []byte, ttl time.Duration) CSRFProtection {
	return CSRFProtection{signingKey: signingKey, ttl: ttl}
}

func csrfPayload(nonce, issuedAt, binding string) string {
	return strings.Join([]string{nonce, issuedAt, binding}, ":")
}

// TTL is how long a generated token stays valid.
func (c *CSRFProtection) TTL() time.Duration {
	return c.ttl
}

// Generate creates a new CSRF token bound to binding.
func (c *CSRFProtection) Generate(binding string) (string, error) {
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	issuedAt := strconv.FormatInt(time.Now().Unix(), 10)
	mac := SignData(csrfPayload(nonce, issuedAt, binding), c.signingKey)
	return nonce + ":" + issuedAt + ":" + mac, nil
}

// Validate checks that token is unexpired and was generated for binding.
func (c *CSRFProtection) Validate(token, binding string) bool {
	nonce, rest, ok := strings.Cut(token, ":")
	if !ok {
		return false
	}
	issuedAt, mac, ok := strings.Cut(rest, ":")
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(issuedAt, 10, 64)
	if err != nil || time.Since(time.Unix(unix, 0)) > c.ttl {
		return false
	}
	return ValidateSignedData(csrfPayload(nonce, issuedAt, binding), mac, c.signingKey)
}
