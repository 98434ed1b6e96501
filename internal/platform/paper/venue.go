// Package paper simulates swap execution against live quotes. Nothing leaves
// the process on Swap; fills happen at the quoted output amount.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Quoter is the part of the venue paper mode still calls for real.
type Quoter interface {
	Quote(ctx context.Context, endpoint string, req domain.QuoteRequest) (domain.Quote, error)
}

// Venue quotes through the real venue and fills swaps locally.
type Venue struct {
	quoter Quoter
	logger *slog.Logger

	mu    sync.Mutex
	fills map[string]domain.SwapReceipt // idempotency token -> receipt
}

func NewVenue(quoter Quoter, logger *slog.Logger) *Venue {
	return &Venue{
		quoter: quoter,
		logger: logger.With(slog.String("component", "paper_venue")),
		fills:  make(map[string]domain.SwapReceipt),
	}
}

func (v *Venue) Quote(ctx context.Context, endpoint string, req domain.QuoteRequest) (domain.Quote, error) {
	return v.quoter.Quote(ctx, endpoint, req)
}

// Swap records a simulated fill. Resubmitting a token returns the first fill.
func (v *Venue) Swap(ctx context.Context, endpoint string, sub domain.SwapSubmission) (domain.SwapReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rcp, ok := v.fills[sub.IdempotencyToken]; ok {
		return rcp, nil
	}
	rcp := domain.SwapReceipt{
		TxHash:    fmt.Sprintf("paper-%s", sub.IdempotencyToken),
		OutAmount: sub.Quote.OutAmount,
	}
	v.fills[sub.IdempotencyToken] = rcp
	v.logger.InfoContext(ctx, "paper swap filled",
		slog.String("token", sub.IdempotencyToken),
		slog.String("quote_id", sub.Quote.ID),
		slog.String("out_amount", rcp.OutAmount.String()),
		slog.String("endpoint", endpoint),
	)
	return rcp, nil
}

// Fills returns the number of distinct simulated swaps.
func (v *Venue) Fills() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.fills)
}
