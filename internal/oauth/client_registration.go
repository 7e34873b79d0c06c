package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dgellow/sentry-mcp/internal/config"
)

// Registration is a parsed RFC 7591 client registration request.
type Registration struct {
	RedirectURIs []string
	Scopes       []string
	Confidential bool
}

// ParseClientRegistration parses agent client registration metadata.
// Clients that ask for no scope get the full upstream scope set; scopes the
// proxy cannot grant are rejected.
func ParseClientRegistration(metadata map[string]any) (*Registration, error) {
	reg := &Registration{}
	if uris, ok := metadata["redirect_uris"].([]any); ok {
		for _, uri := range uris {
			s, ok := uri.(string)
			if !ok {
				continue
			}
			if err := validateRedirectURI(s); err != nil {
				return nil, err
			}
			reg.RedirectURIs = append(reg.RedirectURIs, s)
		}
	}
	if len(reg.RedirectURIs) == 0 {
		return nil, fmt.Errorf("no valid redirect URIs provided")
	}

	reg.Scopes = config.DefaultScopes
	if raw, ok := metadata["scope"].(string); ok && strings.TrimSpace(raw) != "" {
		reg.Scopes = strings.Fields(raw)
		for _, s := range reg.Scopes {
			if !supportedScope(s) {
				return nil, fmt.Errorf("unsupported scope %q", s)
			}
		}
	}

	switch method, _ := metadata["token_endpoint_auth_method"].(string); method {
	case "", "none":
	case "client_secret_post":
		reg.Confidential = true
	default:
		return nil, fmt.Errorf("unsupported token_endpoint_auth_method %q", method)
	}

	return reg, nil
}

func supportedScope(scope string) bool {
	for _, s := range config.DefaultScopes {
		if s == scope {
			return true
		}
	}
	return false
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("redirect URI %q must be an absolute URI", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
	}
	return nil
}
