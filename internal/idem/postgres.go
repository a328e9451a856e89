package idem

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps handled marks in the relational store the rest of the
// system already trusts. An expired mark is free for re-use.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CheckAndSet(ctx context.Context, provider, code string, ttl time.Duration) (bool, error) {
	// The conditional upsert claims the key when it is absent or expired;
	// a live key yields no row.
	var createdAt time.Time
	err := s.db.QueryRow(ctx,
		`INSERT INTO idempotency_records (provider, external_code, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, external_code) DO UPDATE
		   SET expires_at = EXCLUDED.expires_at, created_at = now()
		   WHERE idempotency_records.expires_at < now()
		 RETURNING created_at`,
		provider, code, time.Now().Add(ttl),
	).Scan(&createdAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, provider, code string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM idempotency_records WHERE provider = $1 AND external_code = $2",
		provider, code)
	return err
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM idempotency_records WHERE expires_at < now()")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
