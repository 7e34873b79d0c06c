package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnmarshalJSON implements custom unmarshaling for SentryConfig
func (s *SentryConfig) UnmarshalJSON(data []byte) error {
	type rawSentry struct {
		Host         json.RawMessage `json:"host"`
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		Scopes       []string        `json:"scopes"`
	}

	var raw rawSentry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Scopes = raw.Scopes

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"host", raw.Host, &s.Host},
		{"clientId", raw.ClientID, &s.ClientID},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		parsed, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = parsed.value
	}

	if raw.ClientSecret != nil {
		parsed, err := ParseConfigValue(raw.ClientSecret)
		if err != nil {
			return fmt.Errorf("parsing clientSecret: %w", err)
		}
		s.ClientSecret = Secret(parsed.value)
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		CookieSecret        json.RawMessage `json:"cookieSecret"`
		JWTSecret           json.RawMessage `json:"jwtSecret"`
		EncryptionKey       json.RawMessage `json:"encryptionKey"`
		ApprovalTTL         string          `json:"approvalTtl"`
		StateTTL            string          `json:"stateTtl"`
		TokenTTL            string          `json:"tokenTtl"`
		RefreshTTL          string          `json:"refreshTtl"`
		AllowedOrigins      []string        `json:"allowedOrigins"`
		Storage             StorageKind     `json:"storage"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.AllowedOrigins = raw.AllowedOrigins
	a.Storage = raw.Storage
	a.FirestoreDatabase = raw.FirestoreDatabase
	a.FirestoreCollection = raw.FirestoreCollection

	secrets := []struct {
		name string
		raw  json.RawMessage
		dst  *Secret
	}{
		{"cookieSecret", raw.CookieSecret, &a.CookieSecret},
		{"jwtSecret", raw.JWTSecret, &a.JWTSecret},
		{"encryptionKey", raw.EncryptionKey, &a.EncryptionKey},
	}
	for _, s := range secrets {
		if s.raw == nil {
			continue
		}
		parsed, err := ParseConfigValue(s.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", s.name, err)
		}
		*s.dst = Secret(parsed.value)
	}

	if raw.GCPProject != nil {
		parsed, err := ParseConfigValue(raw.GCPProject)
		if err != nil {
			return fmt.Errorf("parsing gcpProject: %w", err)
		}
		a.GCPProject = parsed.value
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"approvalTtl", raw.ApprovalTTL, &a.ApprovalTTL},
		{"stateTtl", raw.StateTTL, &a.StateTTL},
		{"tokenTtl", raw.TokenTTL, &a.TokenTTL},
		{"refreshTtl", raw.RefreshTTL, &a.RefreshTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for Config
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Addr    json.RawMessage `json:"addr"`
		BaseURL json.RawMessage `json:"baseUrl"`
		Sentry  SentryConfig    `json:"sentry"`
		Auth    AuthConfig      `json:"auth"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Sentry = raw.Sentry
	c.Auth = raw.Auth

	if raw.Addr != nil {
		parsed, err := ParseConfigValue(raw.Addr)
		if err != nil {
			return fmt.Errorf("parsing addr: %w", err)
		}
		c.Addr = parsed.value
	}
	if raw.BaseURL != nil {
		parsed, err := ParseConfigValue(raw.BaseURL)
		if err != nil {
			return fmt.Errorf("parsing baseUrl: %w", err)
		}
		c.BaseURL = parsed.value
	}

	return nil
}
