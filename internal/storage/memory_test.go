package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStorage()
	store.now = func() time.Time { return now }

	err := store.PutSession(ctx, &BridgedSession{
		TokenHash: "h1",
		UserID:    "user-1",
		Email:     "ada@example.com",
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := store.GetSession(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, now, got.UpdatedAt, "UpdatedAt defaults to now")

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.DeleteSession(ctx, "h1"))
	require.NoError(t, store.DeleteSession(ctx, "h1"), "delete is idempotent")
	_, err = store.GetSession(ctx, "h1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStorageExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStorage()
	store.now = func() time.Time { return now }

	require.NoError(t, store.PutSession(ctx, &BridgedSession{TokenHash: "live", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.PutSession(ctx, &BridgedSession{TokenHash: "dead", ExpiresAt: now}))

	_, err := store.GetSession(ctx, "dead")
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired sessions are not returned")

	count, err := store.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetSession(ctx, "live")
	assert.NoError(t, err)
}

func TestCleanupManagerSweepsOnStartAndStop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	require.NoError(t, store.PutSession(ctx, &BridgedSession{TokenHash: "old", ExpiresAt: time.Now().Add(-time.Hour)}))

	cm := NewCleanupManager(store, time.Hour)
	cm.Start(ctx)
	cm.Stop()
	cm.Stop()

	store.mu.RLock()
	assert.Empty(t, store.sessions)
	store.mu.RUnlock()

	stats := cm.Stats()
	assert.Equal(t, 2, stats.Sweeps, "one sweep on start, one on stop")
	assert.Equal(t, 1, stats.Removed)
	assert.NoError(t, stats.LastError)
}

func TestCleanupManagerStopBeforeStart(t *testing.T) {
	cm := NewCleanupManager(NewMemoryStorage(), time.Hour)
	cm.Stop()
	assert.Zero(t, cm.Stats().Sweeps)
}

func TestCleanupManagerSweepFailureIsRecorded(t *testing.T) {
	store := &failingCleanupStorage{MemoryStorage: NewMemoryStorage(), err: errors.New("store unavailable")}
	cm := NewCleanupManager(store, time.Hour)

	assert.Zero(t, cm.Sweep(context.Background()))
	stats := cm.Stats()
	assert.Equal(t, 1, stats.Sweeps)
	assert.EqualError(t, stats.LastError, "store unavailable")
}

type failingCleanupStorage struct {
	*MemoryStorage
	err error
}

func (s *failingCleanupStorage) CleanupExpiredSessions(context.Context) (int, error) {
	return 0, s.err
}
