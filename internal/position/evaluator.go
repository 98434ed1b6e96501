package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Action is the evaluator's verdict.
type Action int

const (
	Hold Action = iota
	Exit
)

func (a Action) String() string {
	if a == Exit {
		return "exit"
	}
	return "hold"
}

// Decision is the result of evaluating one position against one price.
// HighWaterMark is the updated mark the caller persists on Hold.
type Decision struct {
	Action        Action
	Reason        domain.ExitReason
	HighWaterMark decimal.Decimal
}

var one = decimal.NewFromInt(1)

// Evaluate applies the exit rules in fixed precedence: target profit, stop
// loss, trailing stop, time limit. It has no side effects.
func Evaluate(pos domain.Position, price decimal.Decimal, now time.Time) Decision {
	hwm := pos.HighWaterMark
	if hwm.LessThan(pos.EntryPrice) {
		hwm = pos.EntryPrice
	}
	if price.GreaterThan(hwm) {
		hwm = price
	}
	exit := func(r domain.ExitReason) Decision {
		return Decision{Action: Exit, Reason: r, HighWaterMark: hwm}
	}

	if price.GreaterThanOrEqual(pos.EntryPrice.Mul(one.Add(pos.TargetProfitPct))) {
		return exit(domain.ExitReasonTargetProfit)
	}
	if price.LessThanOrEqual(pos.EntryPrice.Mul(one.Sub(pos.StopLossPct))) {
		return exit(domain.ExitReasonStopLoss)
	}
	if pos.TrailingStopPct.IsPositive() && hwm.GreaterThan(pos.EntryPrice) &&
		price.LessThanOrEqual(hwm.Mul(one.Sub(pos.TrailingStopPct))) {
		return exit(domain.ExitReasonTrailingStop)
	}
	if pos.MaxHold > 0 && now.Sub(pos.EntryTime) >= pos.MaxHold {
		return exit(domain.ExitReasonTimeLimit)
	}
	return Decision{Action: Hold, HighWaterMark: hwm}
}

// RealizedPnL is the quote-asset result of an exit: what the swap returned
// minus what the entry cost.
func RealizedPnL(pos domain.Position, output decimal.Decimal) decimal.Decimal {
	return output.Sub(pos.CostBasis())
}
