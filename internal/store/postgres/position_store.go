package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, venue_id, quote_asset,
	entry_price, entry_amount, target_profit_pct, stop_loss_pct, trailing_stop_pct,
	max_hold_ms, high_water_mark, entry_time, status, strategy,
	exit_attempts, exit_reason, exit_price, realized_pnl, tx_hash, failure_reason,
	closed_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p              domain.Position
		maxHoldMs      int64
		status, reason string
		exitPrice, pnl decimal.NullDecimal
		closedAt       *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Symbol, &p.VenueID, &p.QuoteAsset,
		&p.EntryPrice, &p.EntryAmount, &p.TargetProfitPct, &p.StopLossPct, &p.TrailingStopPct,
		&maxHoldMs, &p.HighWaterMark, &p.EntryTime, &status, &p.Strategy,
		&p.ExitAttempts, &reason, &exitPrice, &pnl, &p.TxHash, &p.FailureReason,
		&closedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.MaxHold = time.Duration(maxHoldMs) * time.Millisecond
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitReason(reason)
	if exitPrice.Valid {
		p.ExitPrice = &exitPrice.Decimal
	}
	if pnl.Valid {
		p.RealizedPnL = &pnl.Decimal
	}
	p.ClosedAt = closedAt
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Save upserts the full position row.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, venue_id, quote_asset,
			entry_price, entry_amount, target_profit_pct, stop_loss_pct, trailing_stop_pct,
			max_hold_ms, high_water_mark, entry_time, status, strategy,
			exit_attempts, exit_reason, exit_price, realized_pnl, tx_hash, failure_reason,
			closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20,
			$21, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			high_water_mark = EXCLUDED.high_water_mark,
			status          = EXCLUDED.status,
			exit_attempts   = EXCLUDED.exit_attempts,
			exit_reason     = EXCLUDED.exit_reason,
			exit_price      = EXCLUDED.exit_price,
			realized_pnl    = EXCLUDED.realized_pnl,
			tx_hash         = EXCLUDED.tx_hash,
			failure_reason  = EXCLUDED.failure_reason,
			closed_at       = EXCLUDED.closed_at,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.VenueID, p.QuoteAsset,
		p.EntryPrice, p.EntryAmount, p.TargetProfitPct, p.StopLossPct, p.TrailingStopPct,
		p.MaxHold.Milliseconds(), p.HighWaterMark, p.EntryTime, string(p.Status), p.Strategy,
		p.ExitAttempts, string(p.ExitReason), nullable(p.ExitPrice), nullable(p.RealizedPnL), p.TxHash, p.FailureReason,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	return nil
}

// ListActive returns open and closing positions, oldest first.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status IN ('open', 'closing')
		ORDER BY entry_time ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// GetByID returns one position or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListHistory returns closed and failed positions, most recent first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status IN ('closed', 'failed')`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY closed_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}
