package storage

import (
	"time"

	"github.com/ory/fosite"
)

// Client is a downstream client registered through dynamic client registration.
type Client struct {
	ID            string   `firestore:"id"`
	Secret        []byte   `firestore:"secret,omitempty"` // bcrypt hash, nil for public clients
	RedirectURIs  []string `firestore:"redirect_uris"`
	Scopes        []string `firestore:"scopes"`
	GrantTypes    []string `firestore:"grant_types"`
	ResponseTypes []string `firestore:"response_types"`
	Audience      []string `firestore:"audience"`
	Public        bool     `firestore:"public"`

	CreatedAt int64 `firestore:"created_at"`
}

func newClient(clientID string, hashedSecret []byte, redirectURIs, scopes []string, issuer string) *Client {
	return &Client{
		ID:            clientID,
		Secret:        hashedSecret,
		RedirectURIs:  redirectURIs,
		Scopes:        scopes,
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Audience:      []string{issuer},
		Public:        len(hashedSecret) == 0,
		CreatedAt:     time.Now().Unix(),
	}
}

func (c *Client) ToFositeClient() *fosite.DefaultClient {
	return &fosite.DefaultClient{
		ID:            c.ID,
		Secret:        c.Secret,
		RedirectURIs:  c.RedirectURIs,
		Scopes:        c.Scopes,
		GrantTypes:    c.GrantTypes,
		ResponseTypes: c.ResponseTypes,
		Audience:      c.Audience,
		Public:        c.Public,
	}
}
