package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/buyback-auction/internal/model"
)

// Schema creates the archive table. Config and results are stored as JSONB;
// the strike price is NUMERIC for exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS archived_rounds (
	id                TEXT PRIMARY KEY,
	strike_price      NUMERIC NOT NULL,
	participant_count INTEGER NOT NULL,
	config            JSONB NOT NULL,
	result            JSONB NOT NULL,
	cleared_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS archived_rounds_cleared_at_idx ON archived_rounds (cleared_at DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema. It is safe to run on every startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate archive schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRound(ctx context.Context, r *model.ArchivedRound) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	res, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO archived_rounds (id, strike_price, participant_count, config, result, cleared_at)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6)`,
		r.ID, r.StrikePrice.String(), r.ParticipantCount, cfg, res, r.ClearedAt,
	)
	if err != nil {
		return fmt.Errorf("save round %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*model.ArchivedRound, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, strike_price::TEXT, participant_count, config, result, cleared_at
		 FROM archived_rounds WHERE id = $1`, id)

	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context) ([]model.ArchivedRound, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, strike_price::TEXT, participant_count, config, result, cleared_at
		 FROM archived_rounds ORDER BY cleared_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.ArchivedRound
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (*model.ArchivedRound, error) {
	var r model.ArchivedRound
	var strikeS string
	var cfg, res []byte

	if err := row.Scan(&r.ID, &strikeS, &r.ParticipantCount, &cfg, &res, &r.ClearedAt); err != nil {
		return nil, err
	}

	strike, err := decimal.NewFromString(strikeS)
	if err != nil {
		return nil, fmt.Errorf("parse strike price %q: %w", strikeS, err)
	}
	r.StrikePrice = strike
	if err := json.Unmarshal(cfg, &r.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal(res, &r.Result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
