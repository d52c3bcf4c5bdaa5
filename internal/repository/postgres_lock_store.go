package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
)

// LockSchema creates the tables behind PostgresLockStore.
var LockSchema = []string{
	`CREATE TABLE IF NOT EXISTS coord_locks (
		key        TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coord_locks_expires_at ON coord_locks (expires_at)`,
	`CREATE TABLE IF NOT EXISTS coord_streaks (
		scope               TEXT PRIMARY KEY,
		consecutive_count   INTEGER NOT NULL,
		last_classification TEXT NOT NULL,
		last_owner          TEXT NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// PostgresLockStore implements LockStore on PostgreSQL. Expiry is always
// compared on the server clock so workers with skewed clocks agree.
type PostgresLockStore struct {
	db *sql.DB
}

func NewPostgresLockStore(db *sql.DB) *PostgresLockStore {
	return &PostgresLockStore{db: db}
}

func (s *PostgresLockStore) Get(ctx context.Context, key string) (*models.LockRecord, error) {
	var rec models.LockRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT key, owner, kind, detail, expires_at
		FROM coord_locks
		WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&rec.Key, &rec.Owner, &rec.Kind, &rec.Detail, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock %s: %w", key, err)
	}
	return &rec, nil
}

// Upsert sets expires_at from the server clock; rec.ExpiresAt is ignored.
func (s *PostgresLockStore) Upsert(ctx context.Context, rec *models.LockRecord, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coord_locks (key, owner, kind, detail, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + ($5::double precision * INTERVAL '1 millisecond'))
		ON CONFLICT (key) DO UPDATE SET
			owner = EXCLUDED.owner,
			kind = EXCLUDED.kind,
			detail = EXCLUDED.detail,
			expires_at = EXCLUDED.expires_at`,
		rec.Key, rec.Owner, rec.Kind, rec.Detail, ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert lock %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresLockStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM coord_locks WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete lock %s: %w", key, err)
	}
	return nil
}

func (s *PostgresLockStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM coord_locks WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// BumpStreak is a single upsert, so concurrent writers converge on one row.
func (s *PostgresLockStore) BumpStreak(ctx context.Context, scope, classification, owner string) (models.SuppressionCounter, error) {
	c := models.SuppressionCounter{Scope: scope}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO coord_streaks (scope, consecutive_count, last_classification, last_owner, updated_at)
		VALUES ($1, 1, $2, $3, NOW())
		ON CONFLICT (scope) DO UPDATE SET
			consecutive_count = CASE
				WHEN coord_streaks.last_classification = EXCLUDED.last_classification
				THEN coord_streaks.consecutive_count + 1
				ELSE 1
			END,
			last_classification = EXCLUDED.last_classification,
			last_owner = EXCLUDED.last_owner,
			updated_at = NOW()
		RETURNING consecutive_count, last_classification, last_owner`,
		scope, classification, owner,
	).Scan(&c.ConsecutiveCount, &c.LastClassification, &c.LastOwner)
	if err != nil {
		return models.SuppressionCounter{}, fmt.Errorf("bump streak %s: %w", scope, err)
	}
	return c, nil
}

func (s *PostgresLockStore) ResetStreak(ctx context.Context, scope string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM coord_streaks WHERE scope = $1`, scope); err != nil {
		return fmt.Errorf("reset streak %s: %w", scope, err)
	}
	return nil
}

var _ repository.LockStore = (*PostgresLockStore)(nil)
