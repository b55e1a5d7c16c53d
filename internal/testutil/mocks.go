package testutil

import (
	"context"
	"sync"

	"github.com/gcsewala/authbridge/internal/relay"
	"github.com/gcsewala/authbridge/internal/storage"
	"github.com/stretchr/testify/mock"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req relay.Request) (*relay.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*relay.Response), args.Error(1)
}

type MockStorage struct {
	mock.Mock
}

var _ storage.Storage = (*MockStorage)(nil)

func (m *MockStorage) PutSession(ctx context.Context, session *storage.BridgedSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStorage) GetSession(ctx context.Context, tokenHash string) (*storage.BridgedSession, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.BridgedSession), args.Error(1)
}

func (m *MockStorage) DeleteSession(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *MockStorage) CleanupExpiredSessions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

// RecordingNotifier captures relay notifications synchronously.
type RecordingNotifier struct {
	mu       sync.Mutex
	requests []relay.Request
}

var _ relay.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Notify(req relay.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

// Requests returns a copy of everything notified so far.
func (n *RecordingNotifier) Requests() []relay.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]relay.Request(nil), n.requests...)
}

// Actions returns the action of each notified request, in order.
func (n *RecordingNotifier) Actions() []relay.Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]relay.Action, len(n.requests))
	for i, r := range n.requests {
		out[i] = r.Action
	}
	return out
}
