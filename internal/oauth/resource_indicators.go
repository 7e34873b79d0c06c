package oauth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Resource Indicators for OAuth 2.0 (RFC 8707). The proxy protects a single
// resource, the agent endpoint, so a request may only name that resource or
// the issuer itself.

// MaxResourceParameters bounds how many resource values a request may carry.
const MaxResourceParameters = 10

// ExtractResourceParameters returns the distinct, non-empty resource values
// of the request in order. Absence is not an error.
func ExtractResourceParameters(r *http.Request) ([]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	raw := r.Form["resource"]
	if len(raw) > MaxResourceParameters {
		return nil, fmt.Errorf("too many resource parameters: %d (maximum: %d)", len(raw), MaxResourceParameters)
	}

	seen := make(map[string]struct{}, len(raw))
	out := []string{}
	for _, v := range raw {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// ValidateResourceURI checks that resource is an absolute URI without a
// fragment naming the agent endpoint or the issuer.
func ValidateResourceURI(resource, issuer string) error {
	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("resource URI is not a valid URI: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("resource URI must be absolute (include scheme and host), got: %s", resource)
	}
	if u.Fragment != "" {
		return fmt.Errorf("resource URI must not contain fragment, got: %s", resource)
	}

	expected, err := ResourceURI(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URI: %w", err)
	}
	normalized := strings.TrimSuffix(resource, "/")
	if normalized == expected || normalized == strings.TrimSuffix(issuer, "/") {
		return nil
	}
	return fmt.Errorf("resource URI %s is not served by this authorization server (expected %s)", resource, expected)
}
