package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/logger"
)

// AttemptSchema creates the order attempt log.
var AttemptSchema = []string{
	`CREATE TABLE IF NOT EXISTS order_attempts (
		id     String,
		symbol LowCardinality(String),
		action LowCardinality(String),
		status LowCardinality(String),
		at     DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (at, symbol)
	TTL toDateTime(at) + INTERVAL 30 DAY`,
}

// ClickHouseAttemptLog implements AttemptLog on the order_attempts table.
type ClickHouseAttemptLog struct {
	db    *sql.DB
	table string
	l     *logger.Logger
}

func NewClickHouseAttemptLog(db *sql.DB, l *logger.Logger) *ClickHouseAttemptLog {
	if l == nil {
		l = logger.Nop()
	}
	return &ClickHouseAttemptLog{db: db, table: "order_attempts", l: l}
}

func (s *ClickHouseAttemptLog) Record(ctx context.Context, a models.Attempt) error {
	q := fmt.Sprintf("INSERT INTO %s (id, symbol, action, status, at) VALUES (?, ?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q, a.ID, a.Symbol, string(a.Action), string(a.Status), a.At.UTC()); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *ClickHouseAttemptLog) Since(ctx context.Context, since time.Time) ([]models.Attempt, error) {
	q := fmt.Sprintf("SELECT id, symbol, action, status, at FROM %s WHERE at > ? ORDER BY at ASC", s.table)
	rows, err := s.db.QueryContext(ctx, q, since.UTC())
	if err != nil {
		s.l.Error("clickhouse attempts query error", logger.Time("since", since), logger.Error(err))
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []models.Attempt
	for rows.Next() {
		var (
			a              models.Attempt
			action, status string
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &action, &status, &a.At); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Action = models.ActionType(action)
		a.Status = models.AttemptStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

var _ repository.AttemptLog = (*ClickHouseAttemptLog)(nil)
