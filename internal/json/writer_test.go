package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteUnauthorizedRFC9728(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantHeader string
	}{
		{
			name:       "with resource metadata URI",
			uri:        "https://example.com/.well-known/oauth-protected-resource",
			wantHeader: `Bearer resource_metadata="https://example.com/.well-known/oauth-protected-resource"`,
		},
		{name: "without resource metadata URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteUnauthorizedRFC9728(w, "Invalid token", tt.uri)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.wantHeader, w.Header().Get("WWW-Authenticate"))
			assert.Contains(t, w.Body.String(), "Invalid token")
		})
	}
}

func TestEscapeQuotedString(t *testing.T) {
	assert.Equal(t, "simple", escapeQuotedString("simple"))
	assert.Equal(t, `a\"b`, escapeQuotedString(`a"b`))
	assert.Equal(t, `a\\b`, escapeQuotedString(`a\b`))
}

func TestWriteSystemError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSystemError(w, "Something went wrong", "0123abcd")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "0123abcd", body.EventID)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestWriteRaw(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRaw(w, http.StatusBadRequest, "", []byte(`{"error":"invalid_grant"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"error":"invalid_grant"}`, w.Body.String())
}

func TestWriteBadGateway(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBadGateway(w, "upstream failed")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"bad_gateway","message":"upstream failed"}`, w.Body.String())
}
