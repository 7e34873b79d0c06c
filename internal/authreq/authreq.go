// Package authreq carries a downstream authorization request through the
// consent form and the upstream round-trip inside a signed state value.
package authreq

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ory/fosite"

	"github.com/dgellow/sentry-mcp/internal/crypto"
)

// ErrMissingClientID is returned when a request or decoded state has no client id.
var ErrMissingClientID = errors.New("client_id is required")

// Request is the downstream authorization request. It only carries
// identifiers needed to resume the flow, never secrets: the state value is
// visible to the browser and the upstream.
type Request struct {
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	Scope               []string `json:"scope"`
	State               string   `json:"state"`
	ResponseType        string   `json:"responseType"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
	Resource            []string `json:"resource,omitempty"`
}

// FromAuthorizeRequester copies the fields of a validated fosite request.
func FromAuthorizeRequester(ar fosite.AuthorizeRequester) *Request {
	form := ar.GetRequestForm()
	req := &Request{
		ClientID:            ar.GetClient().GetID(),
		Scope:               append([]string(nil), ar.GetRequestedScopes()...),
		State:               ar.GetState(),
		ResponseType:        strings.Join(ar.GetResponseTypes(), " "),
		CodeChallenge:       form.Get("code_challenge"),
		CodeChallengeMethod: form.Get("code_challenge_method"),
		Resource:            form["resource"],
	}
	if u := ar.GetRedirectURI(); u != nil {
		req.RedirectURI = u.String()
	}
	return req
}

// ScopeString returns the scopes joined by spaces.
func (r *Request) ScopeString() string {
	return strings.Join(r.Scope, " ")
}

// Codec signs requests into state values and verifies them back.
type Codec struct {
	signer crypto.TokenSigner
}

// NewCodec creates a codec whose state values expire after ttl.
func NewCodec(key []byte, ttl time.Duration) *Codec {
	return &Codec{signer: crypto.NewTokenSigner(key, ttl)}
}

// Encode serializes req into a URL-safe signed state value.
func (c *Codec) Encode(req *Request) (string, error) {
	if req == nil || req.ClientID == "" {
		return "", ErrMissingClientID
	}
	return c.signer.Sign(req)
}

// Decode verifies state and returns the request it carries. A state that
// verifies but has no client id yields ErrMissingClientID.
func (c *Codec) Decode(state string) (*Request, error) {
	if state == "" {
		return nil, fmt.Errorf("empty state")
	}
	var req Request
	if err := c.signer.Verify(state, &req); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	if req.ClientID == "" {
		return nil, ErrMissingClientID
	}
	return &req, nil
}
