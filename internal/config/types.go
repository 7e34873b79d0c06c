package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects where registered downstream clients and grants live
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
)

const (
	DefaultSentryHost  = "sentry.io"
	DefaultAddr        = ":8788"
	DefaultApprovalTTL = 365 * 24 * time.Hour
	DefaultStateTTL    = 10 * time.Minute
	DefaultTokenTTL    = time.Hour
	DefaultRefreshTTL  = 30 * 24 * time.Hour
)

// DefaultScopes are requested from the upstream on every authorization.
var DefaultScopes = []string{"org:read", "project:write", "team:write", "event:write"}

// SentryConfig describes the proxy's own registration with the upstream.
type SentryConfig struct {
	Host         string   `json:"host"`
	ClientID     string   `json:"clientId"`
	ClientSecret Secret   `json:"clientSecret"`
	Scopes       []string `json:"scopes"`
}

// AuthConfig holds the downstream-facing authorization settings.
type AuthConfig struct {
	CookieSecret   Secret        `json:"cookieSecret"`
	JWTSecret      Secret        `json:"jwtSecret"`
	EncryptionKey  Secret        `json:"encryptionKey"`
	ApprovalTTL    time.Duration `json:"approvalTtl"`
	StateTTL       time.Duration `json:"stateTtl"`
	TokenTTL       time.Duration `json:"tokenTtl"`
	RefreshTTL     time.Duration `json:"refreshTtl"`
	AllowedOrigins []string      `json:"allowedOrigins"`

	Storage             StorageKind `json:"storage"`
	GCPProject          string      `json:"gcpProject"`
	FirestoreDatabase   string      `json:"firestoreDatabase"`
	FirestoreCollection string      `json:"firestoreCollection"`
}

// Config represents the config structure with resolved values
type Config struct {
	Addr    string       `json:"addr"`
	BaseURL string       `json:"baseUrl"`
	Sentry  SentryConfig `json:"sentry"`
	Auth    AuthConfig   `json:"auth"`
}

// RawConfigValue represents a value that could be a plain string or an env ref.
// This is only used during parsing, not in the final config
type RawConfigValue struct {
	value string
}

// ParseConfigValue parses a JSON value that could be a string or reference object
func ParseConfigValue(raw json.RawMessage) (*RawConfigValue, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &RawConfigValue{value: str}, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return nil, fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return nil, fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return &RawConfigValue{value: value}, nil
}

// String returns the resolved value.
func (v *RawConfigValue) String() string {
	return v.value
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Sentry.Host == "" {
		c.Sentry.Host = DefaultSentryHost
	}
	if len(c.Sentry.Scopes) == 0 {
		c.Sentry.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.Auth.ApprovalTTL == 0 {
		c.Auth.ApprovalTTL = DefaultApprovalTTL
	}
	if c.Auth.StateTTL == 0 {
		c.Auth.StateTTL = DefaultStateTTL
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = DefaultRefreshTTL
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = StorageMemory
	}
	if c.Auth.FirestoreDatabase == "" {
		c.Auth.FirestoreDatabase = "(default)"
	}
	if c.Auth.FirestoreCollection == "" {
		c.Auth.FirestoreCollection = "sentry_mcp_clients"
	}
}
