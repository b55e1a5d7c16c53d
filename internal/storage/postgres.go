package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// PostgresStorage stores bridged sessions in a bridged_sessions table.
type PostgresStorage struct {
	db  *sql.DB
	now func() time.Time
}

var _ Storage = (*PostgresStorage)(nil)

// NewPostgresStorage opens dsn with the pgx driver and applies the embedded
// migrations.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	s := newPostgresStorage(db)
	if err := s.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func newPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

// RunMigrations applies pending schema migrations.
func (s *PostgresStorage) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, s.db, "migrations")
}

func (s *PostgresStorage) PutSession(ctx context.Context, session *BridgedSession) error {
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	query := `
		INSERT INTO bridged_sessions (token_hash, user_id, email, name, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id, email = EXCLUDED.email, name = EXCLUDED.name,
		    expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		session.TokenHash, session.UserID, session.Email, session.Name, session.ExpiresAt, updated); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetSession(ctx context.Context, tokenHash string) (*BridgedSession, error) {
	query := `
		SELECT user_id, email, name, expires_at, updated_at
		FROM bridged_sessions
		WHERE token_hash = $1 AND expires_at > $2
	`
	session := &BridgedSession{TokenHash: tokenHash}
	err := s.db.QueryRowContext(ctx, query, tokenHash, s.now()).
		Scan(&session.UserID, &session.Email, &session.Name, &session.ExpiresAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return session, nil
}

func (s *PostgresStorage) DeleteSession(ctx context.Context, tokenHash string) error {
	query := `DELETE FROM bridged_sessions WHERE token_hash = $1`
	if _, err := s.db.ExecContext(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CleanupExpiredSessions(ctx context.Context) (int, error) {
	query := `DELETE FROM bridged_sessions WHERE expires_at <= $1`
	res, err := s.db.ExecContext(ctx, query, s.now())
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
