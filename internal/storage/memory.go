package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ory/fosite"
	"github.com/ory/fosite/storage"

	"github.com/dgellow/sentry-mcp/internal/log"
)

var _ Storage = (*MemoryStorage)(nil)
var _ fosite.Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps clients and grants in process memory. Registrations
// are lost on restart.
type MemoryStorage struct {
	*storage.MemoryStore
	clients      map[string]*Client
	clientsMutex sync.RWMutex
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		MemoryStore: storage.NewMemoryStore(),
		clients:     make(map[string]*Client),
	}
}

// GetClient implements fosite.Storage interface
func (s *MemoryStorage) GetClient(_ context.Context, id string) (fosite.Client, error) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, fosite.ErrNotFound
	}
	return client.ToFositeClient(), nil
}

func (s *MemoryStorage) GetClientWithMetadata(_ context.Context, clientID string) (*Client, error) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return client, nil
}

func (s *MemoryStorage) CreateClient(_ context.Context, clientID string, redirectURIs []string, scopes []string, issuer string) (*Client, error) {
	return s.put(newClient(clientID, nil, redirectURIs, scopes, issuer)), nil
}

func (s *MemoryStorage) CreateConfidentialClient(_ context.Context, clientID string, hashedSecret []byte, redirectURIs []string, scopes []string, issuer string) (*Client, error) {
	return s.put(newClient(clientID, hashedSecret, redirectURIs, scopes, issuer)), nil
}

func (s *MemoryStorage) put(client *Client) *Client {
	s.clientsMutex.Lock()
	s.clients[client.ID] = client
	clientCount := len(s.clients)
	s.clientsMutex.Unlock()

	log.LogInfoWithFields("storage", "Client registered", map[string]any{
		"client_id":     client.ID,
		"public":        client.Public,
		"redirect_uris": client.RedirectURIs,
		"total":         clientCount,
	})
	return client
}

// ListClients returns registered clients ordered by registration time.
func (s *MemoryStorage) ListClients(_ context.Context) ([]*Client, error) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStorage) Close() error { return nil }
