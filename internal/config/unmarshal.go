package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// parseOptional resolves raw into dst when present.
func parseOptional(raw json.RawMessage, name string, dst *string) error {
	if raw == nil {
		return nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = value
	return nil
}

func parseDuration(value, name string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

// UnmarshalJSON resolves env references and applies defaults
func (r *RelayConfig) UnmarshalJSON(data []byte) error {
	type rawRelay struct {
		Addr                json.RawMessage `json:"addr"`
		Path                string          `json:"path"`
		AllowedOrigins      []string        `json:"allowedOrigins"`
		Storage             StorageKind     `json:"storage"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		PostgresDSN         json.RawMessage `json:"postgresDsn"`
		JWTSecret           json.RawMessage `json:"jwtSecret"`
		HashKey             json.RawMessage `json:"hashKey"`
		SessionTTL          string          `json:"sessionTtl"`
		CleanupInterval     string          `json:"cleanupInterval"`
		CacheSize           *int            `json:"cacheSize"`
	}

	var raw rawRelay
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = RelayConfig{
		Addr:                DefaultAddr,
		Path:                DefaultBridgePath,
		AllowedOrigins:      raw.AllowedOrigins,
		Storage:             StorageMemory,
		FirestoreDatabase:   raw.FirestoreDatabase,
		FirestoreCollection: DefaultFirestoreCollection,
		SessionTTL:          DefaultSessionTTL,
		CleanupInterval:     DefaultCleanupInterval,
		CacheSize:           DefaultCacheSize,
	}
	if raw.Path != "" {
		r.Path = raw.Path
	}
	if raw.Storage != "" {
		r.Storage = raw.Storage
	}
	if raw.FirestoreCollection != "" {
		r.FirestoreCollection = raw.FirestoreCollection
	}
	if raw.CacheSize != nil {
		r.CacheSize = *raw.CacheSize
	}

	if err := parseOptional(raw.Addr, "addr", &r.Addr); err != nil {
		return err
	}
	if err := parseOptional(raw.GCPProject, "gcpProject", &r.GCPProject); err != nil {
		return err
	}
	if err := parseDuration(raw.SessionTTL, "sessionTtl", &r.SessionTTL); err != nil {
		return err
	}
	if err := parseDuration(raw.CleanupInterval, "cleanupInterval", &r.CleanupInterval); err != nil {
		return err
	}

	secrets := []struct {
		raw  json.RawMessage
		name string
		dst  *Secret
	}{
		{raw.PostgresDSN, "postgresDsn", &r.PostgresDSN},
		{raw.JWTSecret, "jwtSecret", &r.JWTSecret},
		{raw.HashKey, "hashKey", &r.HashKey},
	}
	for _, s := range secrets {
		var value string
		if err := parseOptional(s.raw, s.name, &value); err != nil {
			return err
		}
		*s.dst = Secret(value)
	}
	return nil
}

// UnmarshalJSON resolves env references in the upstream section
func (u *UpstreamConfig) UnmarshalJSON(data []byte) error {
	type rawUpstream struct {
		URL      json.RawMessage `json:"url"`
		AnonKey  json.RawMessage `json:"anonKey"`
		RelayURL json.RawMessage `json:"relayUrl"`
	}

	var raw rawUpstream
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*u = UpstreamConfig{}
	if err := parseOptional(raw.URL, "url", &u.URL); err != nil {
		return err
	}
	if err := parseOptional(raw.RelayURL, "relayUrl", &u.RelayURL); err != nil {
		return err
	}
	var anonKey string
	if err := parseOptional(raw.AnonKey, "anonKey", &anonKey); err != nil {
		return err
	}
	u.AnonKey = Secret(anonKey)
	return nil
}
