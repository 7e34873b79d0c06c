package oauth

import (
	"strings"

	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/urlutil"
)

// ResourcePath is the path of the protected agent endpoint.
const ResourcePath = "mcp"

// AuthorizationServerMetadata builds OAuth 2.0 Authorization Server Metadata per RFC 8414
// https://datatracker.ietf.org/doc/html/rfc8414
func AuthorizationServerMetadata(issuer string) (map[string]any, error) {
	authzEndpoint, err := urlutil.JoinPath(issuer, "oauth", "authorize")
	if err != nil {
		return nil, err
	}
	tokenEndpoint, err := urlutil.JoinPath(issuer, "oauth", "token")
	if err != nil {
		return nil, err
	}
	registerEndpoint, err := urlutil.JoinPath(issuer, "oauth", "register")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                authzEndpoint,
		"token_endpoint":                        tokenEndpoint,
		"registration_endpoint":                 registerEndpoint,
		"response_types_supported":              []string{"code"},
		"response_modes_supported":              []string{"query"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
		"scopes_supported":                      config.DefaultScopes,
		"resource_indicators_supported":         true,
	}, nil
}

// AuthorizationServerMetadataURI returns the well-known URI for the authorization server metadata.
func AuthorizationServerMetadataURI(issuer string) (string, error) {
	return urlutil.JoinPath(issuer, ".well-known", "oauth-authorization-server")
}

// ResourceURI is the canonical RFC 8707 identifier of the agent endpoint.
func ResourceURI(issuer string) (string, error) {
	return urlutil.JoinPath(issuer, ResourcePath)
}

// ProtectedResourceMetadata builds OAuth 2.0 Protected Resource Metadata per
// RFC 9728 for the agent endpoint.
func ProtectedResourceMetadata(issuer string) (map[string]any, error) {
	resource, err := ResourceURI(issuer)
	if err != nil {
		return nil, err
	}
	authzServerURL, err := AuthorizationServerMetadataURI(issuer)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"resource":                 resource,
		"authorization_servers":    []string{issuer},
		"scopes_supported":         config.DefaultScopes,
		"bearer_methods_supported": []string{"header"},
		"_links": map[string]any{
			"oauth-authorization-server": map[string]string{
				"href": authzServerURL,
			},
		},
	}, nil
}

// ProtectedResourceMetadataURI is advertised in WWW-Authenticate challenges.
func ProtectedResourceMetadataURI(issuer string) string {
	uri, err := urlutil.JoinPath(issuer, ".well-known", "oauth-protected-resource")
	if err != nil {
		return "/.well-known/oauth-protected-resource"
	}
	return uri
}

// ClientMetadata represents OAuth 2.0 client metadata
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// BuildClientMetadata creates the registration response for a client.
// secret is only set on the response to the registering request.
func BuildClientMetadata(clientID string, redirectURIs, grantTypes, responseTypes, scopes []string, secret string, issuedAt int64) ClientMetadata {
	method := "none"
	if secret != "" {
		method = "client_secret_post"
	}
	return ClientMetadata{
		ClientID:                clientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        issuedAt,
		RedirectURIs:            redirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   strings.Join(scopes, " "),
		TokenEndpointAuthMethod: method,
	}
}
