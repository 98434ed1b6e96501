package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/metrics"
	"github.com/alanyoungcy/swapkeeper/internal/position"
)

// PriceOracle returns the current quote-asset price of one unit of asset.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// SwapExecutor closes positions at the venue.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error)
}

// Config tunes the scheduler.
type Config struct {
	TickInterval   time.Duration
	TickTimeout    time.Duration
	Concurrency    int
	MaxSlippageBps int
	Defaults       position.ExitDefaults
}

// DefaultConfig returns the stock scheduler settings.
func DefaultConfig() Config {
	return Config{
		TickInterval: 10 * time.Second,
		TickTimeout:  150 * time.Second,
		Concurrency:  8,
	}
}

// Monitor owns the evaluation loop. On each tick it prices every open
// position, applies the exit policy and drives winners of the open->closing
// transition through the executor.
type Monitor struct {
	registry *position.Registry
	oracle   PriceOracle
	executor SwapExecutor
	events   domain.EventSink
	store    domain.PositionStore
	archiver domain.PositionArchiver
	metrics  *metrics.Metrics
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithStore persists every lifecycle change.
func WithStore(s domain.PositionStore) Option { return func(m *Monitor) { m.store = s } }

// WithArchiver ships terminal positions to cold storage before removal.
func WithArchiver(a domain.PositionArchiver) Option { return func(m *Monitor) { m.archiver = a } }

// WithMetrics records tick and exit metrics.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

// WithClock injects the scheduler clock.
func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

// New creates a Monitor. A nil sink discards events.
func New(
	registry *position.Registry,
	oracle PriceOracle,
	executor SwapExecutor,
	events domain.EventSink,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Monitor {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = def.TickTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	m := &Monitor{
		registry: registry,
		oracle:   oracle,
		executor: executor,
		events:   events,
		cfg:      cfg,
		clock:    clock.New(),
		logger:   logger.With(slog.String("component", "monitor")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit registers a new position after filling in default thresholds.
func (m *Monitor) Admit(ctx context.Context, spec domain.PositionSpec) (domain.Position, error) {
	spec = position.ApplyDefaults(spec, m.cfg.Defaults)
	pos, err := m.registry.Admit(spec)
	if err != nil {
		return domain.Position{}, fmt.Errorf("monitor: %w", err)
	}
	m.persist(ctx, pos)
	m.events.Emit(domain.Event{
		Type:       domain.EventPositionAdmitted,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		At:         m.clock.Now(),
	})
	m.logger.InfoContext(ctx, "position admitted",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("entry_price", pos.EntryPrice.String()),
		slog.String("entry_amount", pos.EntryAmount.String()),
	)
	return pos, nil
}

// Restore reloads active positions from the store after a restart.
func (m *Monitor) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor: restore: %w", err)
	}
	n := 0
	for _, pos := range active {
		if err := m.registry.Restore(pos); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return n, fmt.Errorf("monitor: restore: %w", err)
		}
		n++
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "positions restored", slog.Int("count", n))
	}
	return n, nil
}

// Run ticks until ctx is cancelled. A tick already in progress when ctx is
// cancelled runs to completion (bounded by the tick timeout) so that issued
// swaps are not abandoned mid-flight.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.logger.InfoContext(ctx, "monitor started", slog.Duration("tick_interval", m.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return nil
		case <-ticker.C:
			// The stop signal must not win the race against a due tick.
			if ctx.Err() != nil {
				return nil
			}
			m.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick evaluates every open position once, then reaps terminal ones.
func (m *Monitor) Tick(ctx context.Context) {
	start := m.clock.Now()
	tctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	defer cancel()

	open := m.registry.ListOpen()
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for _, pos := range open {
		g.Go(func() error {
			m.evaluate(tctx, pos)
			return nil
		})
	}
	_ = g.Wait()

	m.Reap(tctx)

	m.metrics.SetOpenPositions(m.registry.CountActive())
	m.metrics.ObserveTick(m.clock.Since(start))
	m.logger.DebugContext(ctx, "tick complete",
		slog.Int("evaluated", len(open)),
		slog.Duration("elapsed", m.clock.Since(start)),
	)
}

func (m *Monitor) evaluate(ctx context.Context, pos domain.Position) {
	price, err := m.oracle.GetPrice(ctx, pos.VenueID)
	if err != nil {
		m.logger.WarnContext(ctx, "price unavailable, holding",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	dec := position.Evaluate(pos, price, m.clock.Now())
	m.registry.UpdateHighWaterMark(pos.ID, dec.HighWaterMark)
	if dec.Action == position.Hold {
		if dec.HighWaterMark.GreaterThan(pos.HighWaterMark) {
			if cur, ok := m.registry.Get(pos.ID); ok {
				m.persist(ctx, cur)
			}
		}
		return
	}
	m.exit(ctx, pos.ID, dec.Reason, price)
}

func (m *Monitor) exit(ctx context.Context, id string, reason domain.ExitReason, price decimal.Decimal) {
	if !m.registry.Transition(id, domain.PositionStatusOpen, domain.PositionStatusClosing) {
		return
	}
	pos, ok := m.registry.Get(id)
	if !ok {
		return
	}
	m.persist(ctx, pos)

	token := fmt.Sprintf("%s-%d", pos.ID, pos.ExitAttempts)
	log := m.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.String("token", token),
	)
	log.InfoContext(ctx, "exit triggered", slog.String("price", price.String()))

	res, err := m.executor.ExecuteSwap(ctx, domain.SwapRequest{
		InputAsset:       pos.VenueID,
		OutputAsset:      pos.QuoteAsset,
		Amount:           pos.EntryAmount,
		MaxSlippageBps:   m.cfg.MaxSlippageBps,
		IdempotencyToken: token,
	})
	if err != nil {
		m.exitFailed(ctx, log, pos, reason, err)
		return
	}

	pnl := position.RealizedPnL(pos, res.OutputAmount)
	exitPrice := res.OutputAmount.Div(pos.EntryAmount)
	now := m.clock.Now()
	if oerr := m.registry.SetExitOutcome(id, domain.ExitOutcome{
		Reason:      reason,
		ExitPrice:   &exitPrice,
		RealizedPnL: &pnl,
		TxHash:      res.TxHash,
		At:          now,
	}); oerr != nil {
		log.ErrorContext(ctx, "record exit outcome failed", slog.String("error", oerr.Error()))
	}
	m.registry.Transition(id, domain.PositionStatusClosing, domain.PositionStatusClosed)
	m.metrics.ObserveExit(reason, "closed")
	m.events.Emit(domain.Event{
		Type:        domain.EventPositionExited,
		PositionID:  id,
		Symbol:      pos.Symbol,
		Reason:      string(reason),
		RealizedPnL: &pnl,
		TxHash:      res.TxHash,
		At:          now,
	})
	log.InfoContext(ctx, "position closed",
		slog.String("tx_hash", res.TxHash),
		slog.String("realized_pnl", pnl.String()),
		slog.String("slippage_bps", res.RealizedSlippageBps.StringFixed(2)),
	)
	if cur, ok := m.registry.Get(id); ok {
		m.persist(ctx, cur)
	}
}

func (m *Monitor) exitFailed(ctx context.Context, log *slog.Logger, pos domain.Position, reason domain.ExitReason, err error) {
	if !domain.IsTerminal(err) {
		// Only a business answer proves the venue refused this token. Any
		// other failure may have executed, so the retry resubmits the same
		// token for the venue to deduplicate.
		kind := domain.KindOf(err)
		m.registry.Reopen(pos.ID, !kind.Business())
		m.metrics.ObserveExit(reason, "retry")
		log.WarnContext(ctx, "exit failed, position reopened",
			slog.String("kind", kind.String()),
			slog.Bool("token_kept", !kind.Business()),
			slog.String("error", err.Error()),
		)
		if cur, ok := m.registry.Get(pos.ID); ok {
			m.persist(ctx, cur)
		}
		return
	}

	now := m.clock.Now()
	if oerr := m.registry.SetExitOutcome(pos.ID, domain.ExitOutcome{
		Reason:        reason,
		FailureReason: err.Error(),
		At:            now,
	}); oerr != nil {
		log.ErrorContext(ctx, "record exit outcome failed", slog.String("error", oerr.Error()))
	}
	m.registry.Transition(pos.ID, domain.PositionStatusClosing, domain.PositionStatusFailed)
	m.metrics.ObserveExit(reason, "failed")
	m.events.Emit(domain.Event{
		Type:       domain.EventPositionFailed,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Reason:     err.Error(),
		At:         now,
	})
	log.ErrorContext(ctx, "exit rejected, position failed", slog.String("error", err.Error()))
	if cur, ok := m.registry.Get(pos.ID); ok {
		m.persist(ctx, cur)
	}
}

// Reap persists, archives and then drops terminal positions. Positions whose
// persistence or archival fails stay in memory for the next tick.
func (m *Monitor) Reap(ctx context.Context) {
	terminal := m.registry.ListTerminal()
	if len(terminal) == 0 {
		return
	}
	if m.store != nil {
		saved := terminal[:0]
		for _, pos := range terminal {
			if err := m.store.Save(ctx, pos); err != nil {
				m.logger.WarnContext(ctx, "persist terminal position failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			saved = append(saved, pos)
		}
		terminal = saved
	}
	if len(terminal) == 0 {
		return
	}
	if m.archiver != nil {
		if err := m.archiver.ArchivePositions(ctx, terminal); err != nil {
			m.logger.WarnContext(ctx, "archive terminal positions failed",
				slog.Int("count", len(terminal)),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	for _, pos := range terminal {
		if err := m.registry.Remove(pos.ID); err != nil {
			m.logger.WarnContext(ctx, "remove position failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Monitor) persist(ctx context.Context, pos domain.Position) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, pos); err != nil {
		m.logger.WarnContext(ctx, "persist position failed",
			slog.String("position_id", pos.ID),
			slog.String("status", string(pos.Status)),
			slog.String("error", err.Error()),
		)
	}
}
