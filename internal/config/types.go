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

// StorageKind selects the relay session store
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
	StoragePostgres  StorageKind = "postgres"
)

// Defaults applied when the relay section omits a value
const (
	DefaultAddr                = ":8080"
	DefaultBridgePath          = "/v1/bridge"
	DefaultSessionTTL          = time.Hour
	DefaultCleanupInterval     = 5 * time.Minute
	DefaultCacheSize           = 1000
	DefaultFirestoreCollection = "bridged_sessions"
)

// RelayConfig configures the relay service with resolved values
type RelayConfig struct {
	Addr           string   `json:"addr"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowedOrigins"`

	Storage             StorageKind `json:"storage"`
	GCPProject          string      `json:"gcpProject,omitempty"`
	FirestoreDatabase   string      `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string      `json:"firestoreCollection,omitempty"`
	PostgresDSN         Secret      `json:"postgresDsn,omitempty"`

	// JWTSecret verifies upstream access tokens. Empty disables verification.
	JWTSecret Secret `json:"jwtSecret,omitempty"`
	// HashKey keys the token hashes persisted by the store.
	HashKey Secret `json:"hashKey"`

	SessionTTL      time.Duration `json:"sessionTtl"`
	CleanupInterval time.Duration `json:"cleanupInterval"`
	CacheSize       int           `json:"cacheSize"`
}

// HostConfig describes the production WordPress host
type HostConfig struct {
	ProductionDomain string `json:"productionDomain,omitempty"`
	DashboardURL     string `json:"dashboardUrl,omitempty"`
	DashboardPath    string `json:"dashboardPath,omitempty"`
}

// UpstreamConfig points the client at the hosted auth service
type UpstreamConfig struct {
	URL      string `json:"url"`
	AnonKey  Secret `json:"anonKey"`
	RelayURL string `json:"relayUrl,omitempty"`
}

// Config represents the config structure with resolved values.
//
// Values may be written as {"$env": "VAR_NAME"} and are resolved at load
// time. The explicit JSON form is never expanded by a shell and keeps env
// values containing '$' literal.
type Config struct {
	Version  string          `json:"version"`
	Relay    *RelayConfig    `json:"relay,omitempty"`
	Host     HostConfig      `json:"host"`
	Upstream *UpstreamConfig `json:"upstream,omitempty"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
