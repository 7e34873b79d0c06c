package storage

import (
	"context"
	"errors"

	"github.com/ory/fosite"
)

// ErrClientNotFound is returned when a registered client doesn't exist
var ErrClientNotFound = errors.New("client not found")

// Storage combines fosite's grant storage with management of dynamically
// registered downstream clients.
type Storage interface {
	// Authorization codes, access and refresh tokens, PKCE sessions
	fosite.Storage

	// Client management
	CreateClient(ctx context.Context, clientID string, redirectURIs []string, scopes []string, issuer string) (*Client, error)
	CreateConfidentialClient(ctx context.Context, clientID string, hashedSecret []byte, redirectURIs []string, scopes []string, issuer string) (*Client, error)
	GetClientWithMetadata(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)

	Close() error
}
