// Package event fans lifecycle events out to reporting handlers. Emit never
// blocks the caller: when the buffer is full the event is dropped and counted.
package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Handler consumes one event. Handlers run sequentially on the bus goroutine.
type Handler func(ctx context.Context, e domain.Event) error

type namedHandler struct {
	name string
	fn   Handler
}

// Bus is a buffered, typed event channel.
type Bus struct {
	ch      chan domain.Event
	dropped atomic.Int64
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers []namedHandler
}

var _ domain.EventSink = (*Bus)(nil)

// NewBus creates a bus with the given buffer size.
func NewBus(size int, logger *slog.Logger) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{
		ch:     make(chan domain.Event, size),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, namedHandler{name: name, fn: fn})
}

// Emit enqueues e without blocking.
func (b *Bus) Emit(e domain.Event) {
	select {
	case b.ch <- e:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event dropped, buffer full",
			slog.String("type", string(e.Type)),
			slog.String("position_id", e.PositionID),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Run dispatches events until ctx is cancelled, then drains what is already
// buffered.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.drain(context.WithoutCancel(ctx))
			return nil
		case e := <-b.ch:
			b.dispatch(ctx, e)
		}
	}
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e domain.Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.fn(ctx, e); err != nil {
			b.logger.WarnContext(ctx, "event handler failed",
				slog.String("handler", h.name),
				slog.String("type", string(e.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}
