package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// ExitDefaults fill in thresholds an admission request leaves unset.
type ExitDefaults struct {
	QuoteAsset      string
	TargetProfitPct decimal.Decimal
	StopLossPct     decimal.Decimal
	TrailingStopPct decimal.Decimal
	MaxHold         time.Duration
}

// ApplyDefaults returns spec with zero-valued thresholds replaced by def. A
// disabled trailing stop or time limit is forced to zero instead.
func ApplyDefaults(spec domain.PositionSpec, def ExitDefaults) domain.PositionSpec {
	if spec.QuoteAsset == "" {
		spec.QuoteAsset = def.QuoteAsset
	}
	if spec.TargetProfitPct.IsZero() {
		spec.TargetProfitPct = def.TargetProfitPct
	}
	if spec.StopLossPct.IsZero() {
		spec.StopLossPct = def.StopLossPct
	}
	switch {
	case spec.DisableTrailingStop:
		spec.TrailingStopPct = decimal.Zero
	case spec.TrailingStopPct.IsZero():
		spec.TrailingStopPct = def.TrailingStopPct
	}
	switch {
	case spec.DisableTimeLimit:
		spec.MaxHold = 0
	case spec.MaxHold == 0:
		spec.MaxHold = def.MaxHold
	}
	return spec
}
