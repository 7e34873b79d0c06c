// Package upstreamauth drives the authorization-code flow against the
// upstream Sentry installation on behalf of the proxy.
package upstreamauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"

	"github.com/dgellow/sentry-mcp/internal/config"
	"github.com/dgellow/sentry-mcp/internal/log"
	"github.com/dgellow/sentry-mcp/internal/sentryapi"
)

const (
	authorizePath = "/oauth/authorize/"
	tokenPath     = "/oauth/token/"
	callbackPath  = "/oauth/callback"

	exchangeTimeout = 30 * time.Second
)

// ErrCodeReused is returned when a code has already been presented once.
var ErrCodeReused = errors.New("authorization code already used")

// User is the account the upstream token was issued for.
type User struct {
	ID   string
	Name string
}

// Token is the upstream credential returned by a successful exchange.
type Token struct {
	AccessToken string
	User        User
}

// ExchangeError is a rejection from the upstream token endpoint. The body
// is kept verbatim so it can be relayed to the caller; Status is always a
// 4xx or 5xx.
type ExchangeError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %d %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// Exchanger builds upstream authorize URLs and trades codes for tokens.
type Exchanger struct {
	oauth      oauth2.Config
	httpClient *http.Client

	mu       sync.Mutex
	consumed *ttlcache.Cache[string, struct{}]
}

// Option configures an Exchanger.
type Option func(*Exchanger)

// WithHTTPClient overrides the client used for the token request.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Exchanger) { e.httpClient = c }
}

// NewExchanger creates an exchanger for the configured upstream. baseURL is
// this proxy's public origin and determines the callback URI.
func NewExchanger(cfg config.SentryConfig, baseURL string, opts ...Option) *Exchanger {
	origin := Origin(cfg.Host)
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}
	e := &Exchanger{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  strings.TrimSuffix(baseURL, "/") + callbackPath,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   origin + authorizePath,
				TokenURL:  origin + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: exchangeTimeout},
		consumed: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](config.DefaultStateTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Origin returns the scheme and host for a configured Sentry host, which
// may be a bare hostname or a full origin.
func Origin(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimSuffix(host, "/")
	}
	return "https://" + host
}

// AuthCodeURL returns the upstream authorize URL carrying state.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.oauth.AuthCodeURL(state)
}

// CallbackURL is the redirect URI registered with the upstream.
func (e *Exchanger) CallbackURL() string {
	return e.oauth.RedirectURL
}

// AuthorizeURL is the upstream authorize endpoint.
func (e *Exchanger) AuthorizeURL() string {
	return e.oauth.Endpoint.AuthURL
}

// claim marks code as consumed and reports whether it was fresh.
func (e *Exchanger) claim(code string) bool {
	sum := sha256.Sum256([]byte(code))
	key := hex.EncodeToString(sum[:])

	e.mu.Lock()
	defer e.mu.Unlock()
	e.consumed.DeleteExpired()
	if e.consumed.Has(key) {
		return false
	}
	e.consumed.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true
}

// Exchange trades code for an upstream token. It never retries: a code is
// consumed by the first attempt whatever the outcome.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	if !e.claim(code) {
		return nil, ErrCodeReused
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	tok, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			status := re.Response.StatusCode
			// An error body on a 2xx must not reach the client as a success.
			if status < 400 || status > 599 {
				status = http.StatusBadGateway
			}
			log.LogWarnWithFields("upstreamauth", "Token exchange rejected", map[string]any{
				"status":         re.Response.StatusCode,
				"relayed_status": status,
			})
			return nil, &ExchangeError{
				Status:      status,
				ContentType: re.Response.Header.Get("Content-Type"),
				Body:        re.Body,
			}
		}
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}

	user, err := parseUser(tok.Extra("user"))
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: tok.AccessToken, User: user}, nil
}

func parseUser(raw any) (User, error) {
	if raw == nil {
		return User{}, errors.New("token response has no user")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return User{}, fmt.Errorf("invalid user in token response: %w", err)
	}
	var u struct {
		ID   sentryapi.FlexString `json:"id"`
		Name string               `json:"name"`
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("invalid user in token response: %w", err)
	}
	if u.ID == "" {
		return User{}, errors.New("token response user has no id")
	}
	return User{ID: string(u.ID), Name: u.Name}, nil
}
