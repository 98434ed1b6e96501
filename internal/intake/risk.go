package intake

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Limits are pre-admission risk controls. Zero values disable a limit.
type Limits struct {
	MaxOpenPositions int
	MaxEntryNotional decimal.Decimal
	MaxTotalNotional decimal.Decimal
}

// Check rejects spec when admitting it would break a limit given the
// currently active positions.
func (l Limits) Check(spec domain.PositionSpec, active []domain.Position) error {
	if l.MaxOpenPositions > 0 && len(active) >= l.MaxOpenPositions {
		return fmt.Errorf("%w: %d active positions (max %d)", ErrRiskLimit, len(active), l.MaxOpenPositions)
	}

	notional := spec.EntryPrice.Mul(spec.EntryAmount)
	if l.MaxEntryNotional.IsPositive() && notional.GreaterThan(l.MaxEntryNotional) {
		return fmt.Errorf("%w: entry notional %s exceeds %s", ErrRiskLimit, notional, l.MaxEntryNotional)
	}

	if l.MaxTotalNotional.IsPositive() {
		total := notional
		for _, p := range active {
			total = total.Add(p.CostBasis())
		}
		if total.GreaterThan(l.MaxTotalNotional) {
			return fmt.Errorf("%w: total notional %s exceeds %s", ErrRiskLimit, total, l.MaxTotalNotional)
		}
	}
	return nil
}
