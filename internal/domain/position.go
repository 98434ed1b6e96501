package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks where a position is in its exit lifecycle.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusFailed  PositionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusFailed
}

// ExitReason names the rule that triggered an exit.
type ExitReason string

const (
	ExitReasonTargetProfit ExitReason = "target_profit"
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
	ExitReasonTimeLimit    ExitReason = "time_limit"
)

// PositionSpec is the admission request for a new position. Percentages are
// fractions (0.25 means 25%).
type PositionSpec struct {
	Symbol          string          `json:"symbol"`
	VenueID         string          `json:"venue_id"`
	QuoteAsset      string          `json:"quote_asset,omitempty"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryAmount     decimal.Decimal `json:"entry_amount"`
	TargetProfitPct decimal.Decimal `json:"target_profit_pct"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
	MaxHold         time.Duration   `json:"max_hold"`
	EntryTime       time.Time       `json:"entry_time,omitempty"`
	Strategy        string          `json:"strategy,omitempty"`

	// A zero threshold means "use the default". These turn a rule off
	// regardless of the configured defaults.
	DisableTrailingStop bool `json:"disable_trailing_stop,omitempty"`
	DisableTimeLimit    bool `json:"disable_time_limit,omitempty"`
}

// Position is an open trade with exit thresholds, tracked until it is closed
// or failed. Values handed out by the registry are copies.
type Position struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	VenueID         string          `json:"venue_id"`
	QuoteAsset      string          `json:"quote_asset"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryAmount     decimal.Decimal `json:"entry_amount"`
	TargetProfitPct decimal.Decimal `json:"target_profit_pct"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
	MaxHold         time.Duration   `json:"max_hold"`
	HighWaterMark   decimal.Decimal `json:"high_water_mark"`
	EntryTime       time.Time       `json:"entry_time"`
	Status          PositionStatus  `json:"status"`
	Strategy        string          `json:"strategy,omitempty"`

	ExitAttempts  int              `json:"exit_attempts"`
	ExitReason    ExitReason       `json:"exit_reason,omitempty"`
	ExitPrice     *decimal.Decimal `json:"exit_price,omitempty"`
	RealizedPnL   *decimal.Decimal `json:"realized_pnl,omitempty"`
	TxHash        string           `json:"tx_hash,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// CostBasis is the quote-asset amount paid on entry.
func (p Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(p.EntryAmount)
}

// ExitOutcome is recorded on a closing position by the monitor before the
// final transition.
type ExitOutcome struct {
	Reason        ExitReason
	ExitPrice     *decimal.Decimal
	RealizedPnL   *decimal.Decimal
	TxHash        string
	FailureReason string
	At            time.Time
}
