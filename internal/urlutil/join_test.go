package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		paths   []string
		want    string
		wantErr bool
	}{
		{name: "simple join", base: "https://mcp.example.com", paths: []string{"oauth", "token"}, want: "https://mcp.example.com/oauth/token"},
		{name: "base with path", base: "https://example.com/proxy", paths: []string{"mcp"}, want: "https://example.com/proxy/mcp"},
		{name: "trailing slash kept", base: "https://sentry.io", paths: []string{"oauth", "authorize/"}, want: "https://sentry.io/oauth/authorize/"},
		{name: "well-known path", base: "https://example.com", paths: []string{".well-known", "oauth-protected-resource"}, want: "https://example.com/.well-known/oauth-protected-resource"},
		{name: "no paths", base: "https://example.com", want: "https://example.com"},
		{name: "base with trailing slash", base: "https://example.com/", paths: []string{"mcp"}, want: "https://example.com/mcp"},
		{name: "invalid base", base: "://invalid", paths: []string{"api"}, wantErr: true},
		{name: "relative base", base: "/just/a/path", paths: []string{"api"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
