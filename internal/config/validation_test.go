package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Path + ": " + e.Message
	}
	return out
}

func TestValidateData(t *testing.T) {
	t.Run("valid relay without env", func(t *testing.T) {
		result := ValidateData([]byte(`{
			"version": "v1",
			"relay": {
				"allowedOrigins": ["https://gcseanki.co.uk"],
				"hashKey": {"$env": "RELAY_HASH_KEY"},
				"jwtSecret": {"$env": "JWT_SECRET"}
			}
		}`))
		assert.True(t, result.IsValid(), messages(result.Errors))
		assert.Empty(t, result.Warnings)
	})

	t.Run("structural errors", func(t *testing.T) {
		result := ValidateData([]byte(`{
			"version": "v2",
			"relay": {
				"storage": "postgres",
				"jwtSecret": "inline",
				"allowedOrigins": ["*"]
			}
		}`))
		require.False(t, result.IsValid())

		paths := make(map[string]bool)
		for _, e := range result.Errors {
			paths[e.Path] = true
		}
		assert.True(t, paths["version"])
		assert.True(t, paths["relay.hashKey"])
		assert.True(t, paths["relay.jwtSecret"])
		assert.True(t, paths["relay.postgresDsn"])
		assert.True(t, paths["relay.allowedOrigins[0]"])
	})

	t.Run("bash style references warn", func(t *testing.T) {
		result := ValidateData([]byte(`{
			"version": "v1",
			"upstream": {"url": "${SUPABASE_URL}", "anonKey": {"$env": "ANON"}}
		}`))
		assert.True(t, result.IsValid())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "upstream.url", result.Warnings[0].Path)
		assert.Contains(t, result.Warnings[0].Message, `{"$env": "SUPABASE_URL"}`)
	})

	t.Run("cleanup longer than ttl warns", func(t *testing.T) {
		result := ValidateData([]byte(`{
			"version": "v1",
			"relay": {
				"allowedOrigins": ["https://gcseanki.co.uk"],
				"hashKey": {"$env": "K"},
				"jwtSecret": {"$env": "J"},
				"sessionTtl": "1m",
				"cleanupInterval": "1h"
			}
		}`))
		assert.True(t, result.IsValid())
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "relay.cleanupInterval", result.Warnings[0].Path)
	})

	t.Run("invalid json", func(t *testing.T) {
		result := ValidateData([]byte(`{"version":`))
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Message, "invalid JSON")
	})

	t.Run("missing sections", func(t *testing.T) {
		result := ValidateData([]byte(`{"version": "v1"}`))
		assert.False(t, result.IsValid())
	})
}
