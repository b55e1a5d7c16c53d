package gotrue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gcsewala/authbridge/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSessionStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileSessionStorage(path)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got, "missing file means no session")

	expires := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(&upstream.Session{AccessToken: "tok", ExpiresAt: expires, User: upstream.User{ID: "u"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)
	assert.True(t, expires.Equal(got.ExpiresAt))

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear(), "clear is idempotent")
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileSessionStorageCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := NewFileSessionStorage(path).Load()
	assert.Error(t, err)
}
