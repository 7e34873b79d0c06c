// Package session seals the upstream credential and resolved account into
// an opaque value handed to downstream clients, and opens it again on use.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Props is the payload carried by a downstream session. It is immutable once issued.
type Props struct {
	AccessToken string   `json:"accessToken"`
	AccountSlug *string  `json:"accountSlug"`
	UserID      string   `json:"userId"`
	UserName    string   `json:"userName"`
	ClientID    string   `json:"clientId"`
	Scope       []string `json:"scope"`
}

// Issuer seals and opens session props.
type Issuer interface {
	Issue(ctx context.Context, props Props) (string, error)
	Resolve(ctx context.Context, sealed string) (*Props, error)
}

var (
	ErrExpired    = errors.New("session expired")
	ErrUnknownKey = errors.New("unknown session key")
)

type envelope struct {
	Exp   int64 `json:"exp,omitempty"`
	Props Props `json:"props"`
}

// JWEIssuer seals props as compact JWE with direct AES-256-GCM encryption.
// Older keys can be kept for decryption while a new key is rolled out.
type JWEIssuer struct {
	kid  string
	key  []byte
	keys map[string][]byte
	ttl  time.Duration
	now  func() time.Time
}

// KeyID derives a stable, non-secret identifier for a key.
func KeyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

// NewJWEIssuer creates an issuer encrypting with key. Sessions expire after
// ttl, or never when ttl is zero. previous keys remain valid for Resolve.
func NewJWEIssuer(key []byte, ttl time.Duration, previous ...[]byte) (*JWEIssuer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session encryption key must be 32 bytes, got %d", len(key))
	}
	keys := map[string][]byte{KeyID(key): key}
	for _, k := range previous {
		if len(k) != 32 {
			return nil, fmt.Errorf("previous session key must be 32 bytes, got %d", len(k))
		}
		keys[KeyID(k)] = k
	}
	return &JWEIssuer{
		kid:  KeyID(key),
		key:  key,
		keys: keys,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// Issue implements Issuer.
func (i *JWEIssuer) Issue(_ context.Context, props Props) (string, error) {
	env := envelope{Props: props}
	if i.ttl > 0 {
		env.Exp = i.now().Add(i.ttl).Unix()
	}
	plaintext, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshaling props: %w", err)
	}

	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: i.key, KeyID: i.kid},
		(&jose.EncrypterOptions{}).WithContentType("JSON"),
	)
	if err != nil {
		return "", fmt.Errorf("creating encrypter: %w", err)
	}

	obj, err := enc.Encrypt(plaintext)
	clear(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	return obj.CompactSerialize()
}

// Resolve implements Issuer.
func (i *JWEIssuer) Resolve(_ context.Context, sealed string) (*Props, error) {
	obj, err := jose.ParseEncrypted(sealed,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}

	key, ok := i.keys[obj.Header.KeyID]
	if !ok {
		return nil, ErrUnknownKey
	}

	plaintext, err := obj.Decrypt(key)
	if err != nil {
		return nil, fmt.Errorf("decrypting session: %w", err)
	}
	defer clear(plaintext)

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	if env.Exp > 0 && i.now().Unix() > env.Exp {
		return nil, ErrExpired
	}
	return &env.Props, nil
}

type contextKey struct{}

// WithProps returns a context carrying props.
func WithProps(ctx context.Context, props *Props) context.Context {
	return context.WithValue(ctx, contextKey{}, props)
}

// FromContext returns the props stored by WithProps.
func FromContext(ctx context.Context) (*Props, bool) {
	p, ok := ctx.Value(contextKey{}).(*Props)
	return p, ok && p != nil
}
