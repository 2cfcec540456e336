package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// Schema creates the registry table. EnsureSchema runs it on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS media_registries (
	conversation_id TEXT PRIMARY KEY,
	version         BIGINT NOT NULL DEFAULT 0,
	items           JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps each registry as one row with a version column.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(logging.Component("postgres_store")),
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// EnsureSchema creates the registry table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return mrerrors.ClassifyError(err, BackendPostgres, "")
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, conversationID string) (*media.Registry, int64, error) {
	var (
		data    []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT items, version FROM media_registries WHERE conversation_id = $1`,
		conversationID,
	).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return media.NewRegistry(), 0, nil
	}
	if err != nil {
		return nil, 0, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}

	reg, err := decodeRegistry(data, BackendPostgres, conversationID)
	if err != nil {
		return nil, 0, err
	}
	return reg, version, nil
}

func (s *PostgresStore) Register(ctx context.Context, conversationID string, raws []media.RawMedia, turn int, role media.MessageRole) ([]media.EnhancedMedia, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO media_registries (conversation_id) VALUES ($1) ON CONFLICT (conversation_id) DO NOTHING`,
		conversationID,
	); err != nil {
		return nil, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}

	var (
		data    []byte
		version int64
	)
	if err := tx.QueryRow(ctx,
		`SELECT items, version FROM media_registries WHERE conversation_id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&data, &version); err != nil {
		return nil, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}

	reg, err := decodeRegistry(data, BackendPostgres, conversationID)
	if err != nil {
		return nil, err
	}
	out, changed, err := registerInto(reg, raws, turn, role)
	if err != nil {
		return nil, err
	}
	if !changed {
		return out, nil
	}

	encoded, err := encodeRegistry(reg)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE media_registries SET items = $2, version = version + 1, updated_at = NOW() WHERE conversation_id = $1`,
		conversationID, encoded,
	); err != nil {
		return nil, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}

	s.logger.Debug("Media registered",
		logging.F("conversation_id", conversationID),
		logging.F("version", version+1),
		logging.F("count", len(out)))
	return out, nil
}

func (s *PostgresStore) Apply(ctx context.Context, conversationID string, expectedVersion int64, updates []media.Update) (int64, error) {
	reg, version, err := s.Load(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if version != expectedVersion {
		return 0, versionConflict(BackendPostgres, conversationID, expectedVersion, version)
	}
	if err := reg.Apply(updates); err != nil {
		return 0, err
	}
	encoded, err := encodeRegistry(reg)
	if err != nil {
		return 0, err
	}

	// The version predicate makes this a compare-and-swap.
	tag, err := s.pool.Exec(ctx,
		`UPDATE media_registries SET items = $3, version = version + 1, updated_at = NOW()
		 WHERE conversation_id = $1 AND version = $2`,
		conversationID, expectedVersion, encoded,
	)
	if err != nil {
		return 0, mrerrors.ClassifyError(err, BackendPostgres, conversationID)
	}
	if tag.RowsAffected() == 0 {
		return 0, mrerrors.NewStoreError(mrerrors.ErrVersionConflict, BackendPostgres, conversationID, "registry changed during apply")
	}
	return expectedVersion + 1, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
