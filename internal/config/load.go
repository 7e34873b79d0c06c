package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/dgellow/sentry-mcp/internal/log"
)

// SupportedVersion is the config file version prefix this build understands.
const SupportedVersion = "v1"

// Load loads and processes the config with immediate env var resolution.
// Files ending in .yaml or .yml are converted to JSON first.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return Config{}, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	return Parse(data)
}

// Parse decodes a JSON config document, resolves env references and validates it.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, SupportedVersion) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	config.ApplyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadFromEnv builds the config from environment variables alone.
func LoadFromEnv() (Config, error) {
	config := Config{
		Addr:    os.Getenv("ADDR"),
		BaseURL: os.Getenv("BASE_URL"),
		Sentry: SentryConfig{
			Host:         os.Getenv("SENTRY_HOST"),
			ClientID:     os.Getenv("SENTRY_CLIENT_ID"),
			ClientSecret: Secret(os.Getenv("SENTRY_CLIENT_SECRET")),
		},
		Auth: AuthConfig{
			CookieSecret:        Secret(os.Getenv("COOKIE_SECRET")),
			JWTSecret:           Secret(os.Getenv("JWT_SECRET")),
			EncryptionKey:       Secret(os.Getenv("SESSION_ENCRYPTION_KEY")),
			Storage:             StorageKind(os.Getenv("STORAGE")),
			GCPProject:          os.Getenv("GCP_PROJECT"),
			FirestoreDatabase:   os.Getenv("FIRESTORE_DATABASE"),
			FirestoreCollection: os.Getenv("FIRESTORE_COLLECTION"),
		},
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.Auth.AllowedOrigins = append(config.Auth.AllowedOrigins, o)
			}
		}
	}
	if ttl := os.Getenv("APPROVAL_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("parsing APPROVAL_TTL: %w", err)
		}
		config.Auth.ApprovalTTL = d
	}

	config.ApplyDefaults()
	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	sections := map[string][]string{
		"sentry": {"clientSecret"},
		"auth":   {"cookieSecret", "jwtSecret", "encryptionKey"},
	}
	for section, names := range sections {
		fields, ok := rawConfig[section].(map[string]any)
		if !ok {
			continue
		}
		for _, name := range names {
			value, exists := fields[name]
			if !exists {
				continue
			}
			if _, isString := value.(string); isString {
				return fmt.Errorf("%s.%s must use environment variable reference for security", section, name)
			}
			if refMap, isMap := value.(map[string]any); isMap {
				if _, hasEnv := refMap["$env"]; !hasEnv {
					return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", section, name)
				}
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration and reports every
// problem found.
func ValidateConfig(config *Config) error {
	var errs []error

	if config.BaseURL == "" {
		errs = append(errs, fmt.Errorf("baseUrl is required"))
	} else if u, err := url.Parse(config.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("baseUrl must be an absolute URL"))
	}
	if config.Addr == "" {
		errs = append(errs, fmt.Errorf("addr is required"))
	}
	if strings.Contains(config.Sentry.Host, "/") {
		errs = append(errs, fmt.Errorf("sentry.host must be a bare hostname, got %q", config.Sentry.Host))
	}
	if config.Sentry.ClientID == "" {
		errs = append(errs, fmt.Errorf("sentry.clientId is required"))
	}
	if config.Sentry.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("sentry.clientSecret is required"))
	}
	if len(config.Auth.CookieSecret) < 16 {
		errs = append(errs, fmt.Errorf("auth.cookieSecret must be at least 16 characters (got %d)", len(config.Auth.CookieSecret)))
	}
	if len(config.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwtSecret must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(config.Auth.JWTSecret)))
	}
	if len(config.Auth.EncryptionKey) != 32 {
		errs = append(errs, fmt.Errorf("auth.encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(config.Auth.EncryptionKey)))
	}
	if config.Auth.ApprovalTTL < 0 || config.Auth.StateTTL < 0 || config.Auth.TokenTTL < 0 || config.Auth.RefreshTTL < 0 {
		errs = append(errs, fmt.Errorf("auth durations cannot be negative"))
	}

	switch config.Auth.Storage {
	case StorageMemory, "":
	case StorageFirestore:
		if config.Auth.GCPProject == "" {
			errs = append(errs, fmt.Errorf("auth.gcpProject is required when using firestore storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.storage must be memory or firestore, got %q", config.Auth.Storage))
	}

	if len(config.Auth.AllowedOrigins) == 0 {
		log.LogWarn("No allowed origins configured; every origin is allowed without credentials")
	}

	return errors.Join(errs...)
}
