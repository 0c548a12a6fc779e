package lifecycle

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// JournalSchema creates the transition table
var JournalSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS engine`,
	`CREATE TABLE IF NOT EXISTS engine.lifecycle_transitions (
		id              BIGSERIAL PRIMARY KEY,
		from_state      TEXT NOT NULL,
		to_state        TEXT NOT NULL,
		day_key         TEXT NOT NULL,
		domain          TEXT,
		error           TEXT,
		trading_enabled BOOLEAN NOT NULL,
		occurred_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lifecycle_transitions_day ON engine.lifecycle_transitions (day_key)`,
}

// Journal appends lifecycle transitions to Postgres
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a journal; a nil pool disables it
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Append records one transition
func (j *Journal) Append(ctx context.Context, t Transition) error {
	if j == nil || j.pool == nil {
		return nil
	}

	query := `
		INSERT INTO engine.lifecycle_transitions (
			from_state, to_state, day_key, domain, error, trading_enabled, occurred_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	`

	_, err := j.pool.Exec(ctx, query,
		string(t.From), string(t.To), t.DayKey, t.Domain, t.Error, t.Trading, t.At,
	)
	if err != nil {
		return fmt.Errorf("failed to journal transition: %w", err)
	}
	return nil
}

// Recent returns the latest transitions for a day, newest first
func (j *Journal) Recent(ctx context.Context, dayKey string, limit int) ([]Transition, error) {
	if j == nil || j.pool == nil {
		return nil, nil
	}

	query := `
		SELECT from_state, to_state, day_key, COALESCE(domain, ''), COALESCE(error, ''),
		       trading_enabled, occurred_at
		FROM engine.lifecycle_transitions
		WHERE day_key = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := j.pool.Query(ctx, query, dayKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t        Transition
			from, to string
		)
		if err := rows.Scan(&from, &to, &t.DayKey, &t.Domain, &t.Error, &t.Trading, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.From = State(from)
		t.To = State(to)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
