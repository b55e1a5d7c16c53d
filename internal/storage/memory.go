package storage

import (
	"context"
	"sync"
	"time"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps sessions in process memory. Contents are lost on restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string]BridgedSession
	now      func() time.Time
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]BridgedSession),
		now:      time.Now,
	}
}

func (s *MemoryStorage) PutSession(_ context.Context, session *BridgedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *session
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now()
	}
	s.sessions[session.TokenHash] = stored
	return nil
}

func (s *MemoryStorage) GetSession(_ context.Context, tokenHash string) (*BridgedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[tokenHash]
	if !ok || session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *MemoryStorage) DeleteSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemoryStorage) CleanupExpiredSessions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for hash, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, hash)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
