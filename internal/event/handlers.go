package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Publish forwards events to pub/sub, one channel per event family.
func Publish(bus domain.SignalBus) Handler {
	return func(ctx context.Context, e domain.Event) error {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("event: marshal %s: %w", e.Type, err)
		}
		if err := bus.Publish(ctx, e.Channel(), payload); err != nil {
			return fmt.Errorf("event: publish %s: %w", e.Type, err)
		}
		return nil
	}
}

// Audit appends every event to the audit log.
func Audit(store domain.AuditStore) Handler {
	return func(ctx context.Context, e domain.Event) error {
		detail := map[string]any{"at": e.At}
		if e.PositionID != "" {
			detail["position_id"] = e.PositionID
		}
		if e.Symbol != "" {
			detail["symbol"] = e.Symbol
		}
		if e.Reason != "" {
			detail["reason"] = e.Reason
		}
		if e.RealizedPnL != nil {
			detail["realized_pnl"] = e.RealizedPnL.String()
		}
		if e.TxHash != "" {
			detail["tx_hash"] = e.TxHash
		}
		if e.Endpoint != "" {
			detail["endpoint"] = e.Endpoint
		}
		return store.Log(ctx, string(e.Type), detail)
	}
}

// Log writes events to the structured log.
func Log(logger *slog.Logger) Handler {
	return func(ctx context.Context, e domain.Event) error {
		logger.InfoContext(ctx, "event",
			slog.String("type", string(e.Type)),
			slog.String("position_id", e.PositionID),
			slog.String("endpoint", e.Endpoint),
			slog.String("reason", e.Reason),
		)
		return nil
	}
}
