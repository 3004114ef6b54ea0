package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/session"
)

// Querier is the subset of *pgxpool.Pool used by PGStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS client_credential (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectSQL = `SELECT value FROM client_credential WHERE key = $1`
	upsertSQL = `INSERT INTO client_credential (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	deleteSQL = `DELETE FROM client_credential WHERE key = $1`
)

// PGStore keeps the credential in a one-row-per-key table. It suits kiosk
// deployments where several portal processes share one sign-in.
type PGStore struct {
	db       Querier
	pool     *pgxpool.Pool
	key      string
	interval time.Duration
	logger   zerolog.Logger
}

// OpenPostgres opens a pool, verifies it and ensures the table exists.
func OpenPostgres(ctx context.Context, databaseURL, key string, interval time.Duration, logger zerolog.Logger) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewPGStore(pool, key, interval, logger)
	s.pool = pool
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPGStore wraps an existing connection; Close leaves it open.
func NewPGStore(db Querier, key string, interval time.Duration, logger zerolog.Logger) *PGStore {
	if key == "" {
		key = DefaultKey
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PGStore{db: db, key: key, interval: interval, logger: logger}
}

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create client_credential table: %w", err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context) (*session.Credential, error) {
	var b []byte
	err := s.db.QueryRow(ctx, selectSQL, s.key).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select credential: %w", err)
	}
	return decode(b)
}

func (s *PGStore) Save(ctx context.Context, cred session.Credential) error {
	b, err := encode(cred)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertSQL, s.key, b); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, deleteSQL, s.key); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *PGStore) Watch(ctx context.Context) (<-chan Change, error) {
	last, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return poll(ctx, s.interval, last, s.Load, s.logger), nil
}

func (s *PGStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
