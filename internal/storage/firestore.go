package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/ory/fosite"
	"github.com/ory/fosite/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgellow/sentry-mcp/internal/log"
)

// FirestoreStorage persists registered clients in Google Cloud Firestore so
// they survive restarts and are shared between replicas. Grants stay in
// memory: they are short-lived and bound to the instance that issued them.
//
// Reads of unknown clients fall through to Firestore; writes must succeed
// in Firestore before the client is visible in memory.
type FirestoreStorage struct {
	*storage.MemoryStore
	client       *firestore.Client
	collection   string
	clients      map[string]*Client
	clientsMutex sync.RWMutex
}

var _ Storage = (*FirestoreStorage)(nil)
var _ fosite.Storage = (*FirestoreStorage)(nil)

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	s := newFirestoreStorage(client, collection)
	if err := s.loadClients(ctx); err != nil {
		// Clients are loaded lazily on miss, startup can proceed.
		log.LogError("Failed to load clients from Firestore: %v", err)
	}
	return s, nil
}

func newFirestoreStorage(client *firestore.Client, collection string) *FirestoreStorage {
	return &FirestoreStorage{
		MemoryStore: storage.NewMemoryStore(),
		client:      client,
		collection:  collection,
		clients:     make(map[string]*Client),
	}
}

func (s *FirestoreStorage) loadClients(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	loaded := make(map[string]*Client)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating Firestore documents: %w", err)
		}

		var c Client
		if err := doc.DataTo(&c); err != nil {
			log.LogError("Failed to unmarshal client from Firestore (client_id: %s): %v", doc.Ref.ID, err)
			continue
		}
		loaded[c.ID] = &c
	}

	s.clientsMutex.Lock()
	for id, c := range loaded {
		s.clients[id] = c
	}
	s.clientsMutex.Unlock()

	log.Logf("Loaded %d OAuth clients from Firestore", len(loaded))
	return nil
}

// GetClient implements fosite.Storage interface
func (s *FirestoreStorage) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	c, err := s.GetClientWithMetadata(ctx, id)
	if err != nil {
		return nil, fosite.ErrNotFound
	}
	return c.ToFositeClient(), nil
}

// GetClientWithMetadata returns a client from memory, loading it from
// Firestore on a miss. Concurrent misses may read the same document twice.
func (s *FirestoreStorage) GetClientWithMetadata(ctx context.Context, clientID string) (*Client, error) {
	s.clientsMutex.RLock()
	c, ok := s.clients[clientID]
	s.clientsMutex.RUnlock()
	if ok {
		return c, nil
	}

	doc, err := s.client.Collection(s.collection).Doc(clientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client from Firestore: %w", err)
	}

	var loaded Client
	if err := doc.DataTo(&loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	s.clientsMutex.Lock()
	s.clients[clientID] = &loaded
	s.clientsMutex.Unlock()
	return &loaded, nil
}

func (s *FirestoreStorage) CreateClient(ctx context.Context, clientID string, redirectURIs []string, scopes []string, issuer string) (*Client, error) {
	return s.put(ctx, newClient(clientID, nil, redirectURIs, scopes, issuer))
}

func (s *FirestoreStorage) CreateConfidentialClient(ctx context.Context, clientID string, hashedSecret []byte, redirectURIs []string, scopes []string, issuer string) (*Client, error) {
	return s.put(ctx, newClient(clientID, hashedSecret, redirectURIs, scopes, issuer))
}

func (s *FirestoreStorage) put(ctx context.Context, client *Client) (*Client, error) {
	if _, err := s.client.Collection(s.collection).Doc(client.ID).Set(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to store client in Firestore: %w", err)
	}

	s.clientsMutex.Lock()
	s.clients[client.ID] = client
	s.clientsMutex.Unlock()

	log.LogInfoWithFields("storage", "Client registered", map[string]any{
		"client_id": client.ID,
		"public":    client.Public,
		"backend":   "firestore",
	})
	return client, nil
}

// ListClients returns all persisted clients ordered by registration time.
func (s *FirestoreStorage) ListClients(ctx context.Context) ([]*Client, error) {
	iter := s.client.Collection(s.collection).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*Client
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating Firestore documents: %w", err)
		}
		var c Client
		if err := doc.DataTo(&c); err != nil {
			log.LogError("Failed to unmarshal client from Firestore (client_id: %s): %v", doc.Ref.ID, err)
			continue
		}
		out = append(out, &c)
	}
	return out, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
