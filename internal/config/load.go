package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gcsewala/authbridge/internal/log"
)

// VersionPrefix gates the accepted config file versions
const VersionPrefix = "v1"

// secretFields in the relay section must be env references
var secretFields = []string{"jwtSecret", "hashKey", "postgresDsn"}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes config file contents the way Load does
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
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

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	relay, ok := rawConfig["relay"].(map[string]any)
	if !ok {
		return nil
	}
	for _, name := range secretFields {
		value, exists := relay[name]
		if !exists {
			continue
		}
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Relay == nil && config.Upstream == nil {
		return fmt.Errorf("at least one of relay or upstream must be configured")
	}
	if relay := config.Relay; relay != nil {
		if err := validateRelayConfig(relay); err != nil {
			return fmt.Errorf("relay config: %w", err)
		}
	}
	if upstream := config.Upstream; upstream != nil {
		if err := validateUpstreamConfig(upstream); err != nil {
			return fmt.Errorf("upstream config: %w", err)
		}
	}
	if err := validateHostConfig(&config.Host); err != nil {
		return fmt.Errorf("host config: %w", err)
	}
	return nil
}

func validateRelayConfig(relay *RelayConfig) error {
	if relay.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if !strings.HasPrefix(relay.Path, "/") {
		return fmt.Errorf("path must start with '/' (got %q)", relay.Path)
	}
	if len(relay.HashKey) < 32 {
		return fmt.Errorf("hashKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(relay.HashKey))
	}
	if relay.JWTSecret != "" && len(relay.JWTSecret) < 32 {
		return fmt.Errorf("jwtSecret must be at least 32 characters (got %d)", len(relay.JWTSecret))
	}
	if relay.JWTSecret == "" {
		log.LogWarn("relay.jwtSecret is not set - tokens are not verified and session lookup and host logout are disabled")
	}

	switch relay.Storage {
	case StorageMemory:
	case StorageFirestore:
		if relay.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when using firestore storage")
		}
	case StoragePostgres:
		if relay.PostgresDSN == "" {
			return fmt.Errorf("postgresDsn is required when using postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage: %s (memory, firestore or postgres)", relay.Storage)
	}

	if relay.SessionTTL <= 0 {
		return fmt.Errorf("sessionTtl must be positive")
	}
	if relay.CleanupInterval < 0 {
		return fmt.Errorf("cleanupInterval cannot be negative")
	}
	if relay.CacheSize < 0 {
		return fmt.Errorf("cacheSize cannot be negative")
	}
	if relay.CleanupInterval > relay.SessionTTL {
		log.LogWarn("Session cleanup interval is greater than session TTL")
	}
	if len(relay.AllowedOrigins) == 0 {
		log.LogWarn("relay.allowedOrigins is empty - browsers on other origins cannot call the relay")
	}
	for _, origin := range relay.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("allowedOrigins cannot contain '*' because the relay accepts credentials")
		}
	}
	return nil
}

func validateUpstreamConfig(upstream *UpstreamConfig) error {
	if err := validateAbsoluteURL(upstream.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if upstream.AnonKey == "" {
		return fmt.Errorf("anonKey is required")
	}
	if upstream.RelayURL != "" {
		if err := validateAbsoluteURL(upstream.RelayURL); err != nil {
			return fmt.Errorf("relayUrl: %w", err)
		}
	}
	return nil
}

func validateHostConfig(host *HostConfig) error {
	if host.DashboardURL != "" {
		if err := validateAbsoluteURL(host.DashboardURL); err != nil {
			return fmt.Errorf("dashboardUrl: %w", err)
		}
	}
	if host.DashboardPath != "" && !strings.HasPrefix(host.DashboardPath, "/") {
		return fmt.Errorf("dashboardPath must start with '/' (got %q)", host.DashboardPath)
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http(s) URL (got %q)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host (got %q)", raw)
	}
	return nil
}
