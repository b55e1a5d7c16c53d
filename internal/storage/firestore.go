package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gcsewala/authbridge/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage stores bridged sessions in Google Cloud Firestore, one
// document per token hash.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ Storage = (*FirestoreStorage)(nil)

// BridgedSessionDoc is the Firestore document shape
type BridgedSessionDoc struct {
	UserID    string    `firestore:"user_id"`
	Email     string    `firestore:"email"`
	Name      string    `firestore:"name"`
	ExpiresAt time.Time `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (d *BridgedSessionDoc) toSession(hash string) *BridgedSession {
	return &BridgedSession{
		TokenHash: hash,
		UserID:    d.UserID,
		Email:     d.Email,
		Name:      d.Name,
		ExpiresAt: d.ExpiresAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{client: client, collection: collection, now: time.Now}, nil
}

func (s *FirestoreStorage) PutSession(ctx context.Context, session *BridgedSession) error {
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	doc := BridgedSessionDoc{
		UserID:    session.UserID,
		Email:     session.Email,
		Name:      session.Name,
		ExpiresAt: session.ExpiresAt,
		UpdatedAt: updated,
	}
	if _, err := s.client.Collection(s.collection).Doc(session.TokenHash).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store session in Firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetSession(ctx context.Context, tokenHash string) (*BridgedSession, error) {
	snap, err := s.client.Collection(s.collection).Doc(tokenHash).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Firestore: %w", err)
	}

	var doc BridgedSessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	session := doc.toSession(tokenHash)
	if session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *FirestoreStorage) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.client.Collection(s.collection).Doc(tokenHash).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session from Firestore: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes all expired sessions in batches
func (s *FirestoreStorage) CleanupExpiredSessions(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<=", s.now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired sessions: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
