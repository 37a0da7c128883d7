// internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const positionsSchema = `
CREATE TABLE IF NOT EXISTS positions (
	token_address      TEXT PRIMARY KEY,
	symbol             TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL,
	uncertain          BOOLEAN NOT NULL DEFAULT FALSE,
	entry_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	quantity           DOUBLE PRECISION NOT NULL DEFAULT 0,
	remaining_quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
	buy_amount_sol     DOUBLE PRECISION NOT NULL DEFAULT 0,
	target_multiplier  DOUBLE PRECISION NOT NULL DEFAULT 0,
	sell_percentage    DOUBLE PRECISION NOT NULL DEFAULT 0,
	proceeds_sol       DOUBLE PRECISION NOT NULL DEFAULT 0,
	opened_at          TIMESTAMPTZ NOT NULL,
	closed_at          TIMESTAMPTZ,
	last_price         DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	generation         BIGINT NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore persists position snapshots in postgres via a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to postgres, verifies the connection and
// ensures the positions table exists.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, positionsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create positions table: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger.Named("postgres")}, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, rec *PositionRecord) error {
	const q = `
INSERT INTO positions (
	token_address, symbol, state, uncertain, entry_price, quantity,
	remaining_quantity, buy_amount_sol, target_multiplier, sell_percentage,
	proceeds_sol, opened_at, closed_at, last_price, last_error, generation,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW())
ON CONFLICT (token_address) DO UPDATE SET
	symbol = EXCLUDED.symbol,
	state = EXCLUDED.state,
	uncertain = EXCLUDED.uncertain,
	entry_price = EXCLUDED.entry_price,
	quantity = EXCLUDED.quantity,
	remaining_quantity = EXCLUDED.remaining_quantity,
	buy_amount_sol = EXCLUDED.buy_amount_sol,
	target_multiplier = EXCLUDED.target_multiplier,
	sell_percentage = EXCLUDED.sell_percentage,
	proceeds_sol = EXCLUDED.proceeds_sol,
	opened_at = EXCLUDED.opened_at,
	closed_at = EXCLUDED.closed_at,
	last_price = EXCLUDED.last_price,
	last_error = EXCLUDED.last_error,
	generation = EXCLUDED.generation,
	updated_at = NOW()`

	_, err := s.pool.Exec(ctx, q,
		rec.TokenAddress, rec.Symbol, rec.State, rec.Uncertain, rec.EntryPrice,
		rec.Quantity, rec.RemainingQuantity, rec.BuyAmountSol,
		rec.TargetMultiplier, rec.SellPercentage, rec.ProceedsSol,
		rec.OpenedAt, rec.ClosedAt, rec.LastPrice, rec.LastError,
		rec.Generation)
	if err != nil {
		return fmt.Errorf("save position %s: %w", rec.TokenAddress, err)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, tokenAddress string) (*PositionRecord, error) {
	const q = `
SELECT token_address, symbol, state, uncertain, entry_price, quantity,
	remaining_quantity, buy_amount_sol, target_multiplier, sell_percentage,
	proceeds_sol, opened_at, closed_at, last_price, last_error, generation,
	updated_at
FROM positions WHERE token_address = $1`

	rec, err := scanPosition(s.pool.QueryRow(ctx, q, tokenAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", tokenAddress, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*PositionRecord, error) {
	const q = `
SELECT token_address, symbol, state, uncertain, entry_price, quantity,
	remaining_quantity, buy_amount_sol, target_multiplier, sell_percentage,
	proceeds_sol, opened_at, closed_at, last_price, last_error, generation,
	updated_at
FROM positions WHERE state IN ('opening', 'open', 'closing')`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	var out []*PositionRecord
	for rows.Next() {
		rec, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*PositionRecord, error) {
	var rec PositionRecord
	err := row.Scan(
		&rec.TokenAddress, &rec.Symbol, &rec.State, &rec.Uncertain,
		&rec.EntryPrice, &rec.Quantity, &rec.RemainingQuantity,
		&rec.BuyAmountSol, &rec.TargetMultiplier, &rec.SellPercentage,
		&rec.ProceedsSol, &rec.OpenedAt, &rec.ClosedAt, &rec.LastPrice,
		&rec.LastError, &rec.Generation, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
