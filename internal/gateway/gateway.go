package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/metrics"
	"github.com/alanyoungcy/swapkeeper/internal/rpcpool"
)

// Venue is the quote/swap aggregator, addressed per endpoint.
type Venue interface {
	Quote(ctx context.Context, endpoint string, req domain.QuoteRequest) (domain.Quote, error)
	Swap(ctx context.Context, endpoint string, sub domain.SwapSubmission) (domain.SwapReceipt, error)
}

// BalanceReader reads the wallet's native balance from a chain RPC endpoint.
type BalanceReader interface {
	NativeBalance(ctx context.Context, endpoint, wallet string) (decimal.Decimal, error)
}

// Config tunes retries and the calls the gateway makes.
type Config struct {
	Wallet           string
	QuoteAsset       string
	PriceQuoteAmount decimal.Decimal
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	CallTimeout      time.Duration
	MaxSlippageBps   int
	MinGasBalance    decimal.Decimal
}

// DefaultConfig returns the stock retry policy.
func DefaultConfig() Config {
	return Config{
		PriceQuoteAmount: decimal.NewFromInt(1),
		MaxRetries:       3,
		BackoffBase:      time.Second,
		BackoffMax:       30 * time.Second,
		CallTimeout:      10 * time.Second,
		MaxSlippageBps:   100,
	}
}

// Gateway is the single execution path to the venue and the chain. Every
// call selects an endpoint from a pool, reports the outcome to the health
// tracker, and retries network-level failures with exponential backoff.
type Gateway struct {
	venue    Venue
	venues   *rpcpool.Pool
	balances BalanceReader
	rpcs     *rpcpool.Pool
	prices   domain.PriceCache
	metrics  *metrics.Metrics
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithBalances enables Balance and the pre-flight gas check.
func WithBalances(r BalanceReader, pool *rpcpool.Pool) Option {
	return func(g *Gateway) {
		g.balances = r
		g.rpcs = pool
	}
}

// WithPriceCache writes every observed price through to cache.
func WithPriceCache(c domain.PriceCache) Option {
	return func(g *Gateway) { g.prices = c }
}

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock injects the clock used for endpoint selection and backoff.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// New creates a Gateway routing venue calls through pool.
func New(venue Venue, pool *rpcpool.Pool, cfg Config, logger *slog.Logger, opts ...Option) *Gateway {
	def := DefaultConfig()
	if !cfg.PriceQuoteAmount.IsPositive() {
		cfg.PriceQuoteAmount = def.PriceQuoteAmount
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	g := &Gateway{
		venue:  venue,
		venues: pool,
		cfg:    cfg,
		clock:  clock.New(),
		logger: logger.With(slog.String("component", "gateway")),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.sleep = g.clockSleep
	return g
}

// ExitBudget is the worst-case duration of one exit: a price read, the gas
// pre-flight when enabled, and a swap, each through every retry. A caller's
// deadline shorter than this can cancel a swap the venue already received.
func (g *Gateway) ExitBudget() time.Duration {
	var backoff time.Duration
	for i := 0; i < g.cfg.MaxRetries; i++ {
		backoff += Backoff(i, g.cfg.BackoffBase, g.cfg.BackoffMax)
	}
	tries := time.Duration(g.cfg.MaxRetries + 1)
	read := tries*g.cfg.CallTimeout + backoff
	swap := 2*tries*g.cfg.CallTimeout + backoff // quote + submit per try
	budget := read + swap
	if g.cfg.MinGasBalance.IsPositive() && g.balances != nil && g.rpcs != nil {
		budget += read
	}
	return budget
}

// GetPrice quotes PriceQuoteAmount of asset against the quote asset and returns
// the unit price. Reads fall back to the pool's fallback endpoint when every
// pooled endpoint is cooling down.
func (g *Gateway) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	req := domain.QuoteRequest{
		InputAsset:     asset,
		OutputAsset:    g.cfg.QuoteAsset,
		Amount:         g.cfg.PriceQuoteAmount,
		MaxSlippageBps: g.cfg.MaxSlippageBps,
	}
	var q domain.Quote
	_, err := g.do(ctx, g.venues, "quote", true, func(ctx context.Context, ep domain.Endpoint) error {
		var err error
		q, err = g.quote(ctx, ep.Address, req)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("gateway: get price %s: %w", asset, err)
	}

	in := q.InAmount
	if !in.IsPositive() {
		in = req.Amount
	}
	if !q.OutAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("gateway: get price %s: %w", asset, domain.ErrUnavailable)
	}
	price := q.OutAmount.Div(in)

	if g.prices != nil {
		if cerr := g.prices.SetPrice(ctx, asset, price, g.clock.Now()); cerr != nil {
			g.logger.WarnContext(ctx, "price cache write failed",
				slog.String("asset", asset),
				slog.String("error", cerr.Error()),
			)
		}
	}
	return price, nil
}

// ExecuteSwap quotes and submits a swap on the same endpoint. The caller's
// idempotency token is sent on every attempt. Business rejections are
// returned without retrying.
func (g *Gateway) ExecuteSwap(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	if req.IdempotencyToken == "" {
		return domain.SwapResult{}, errors.New("gateway: execute swap: idempotency token is required")
	}
	if req.MaxSlippageBps <= 0 {
		req.MaxSlippageBps = g.cfg.MaxSlippageBps
	}
	if err := g.preflight(ctx); err != nil {
		return domain.SwapResult{}, fmt.Errorf("gateway: execute swap: %w", err)
	}

	qreq := domain.QuoteRequest{
		InputAsset:     req.InputAsset,
		OutputAsset:    req.OutputAsset,
		Amount:         req.Amount,
		MaxSlippageBps: req.MaxSlippageBps,
	}
	var (
		q   domain.Quote
		rcp domain.SwapReceipt
	)
	addr, err := g.do(ctx, g.venues, "swap", false, func(ctx context.Context, ep domain.Endpoint) error {
		var err error
		if q, err = g.quote(ctx, ep.Address, qreq); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
		rcp, err = g.venue.Swap(callCtx, ep.Address, domain.SwapSubmission{
			Quote:            q,
			Wallet:           g.cfg.Wallet,
			IdempotencyToken: req.IdempotencyToken,
		})
		return err
	})
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("gateway: execute swap %s: %w", req.IdempotencyToken, err)
	}

	res := domain.SwapResult{
		TxHash:              rcp.TxHash,
		OutputAmount:        rcp.OutAmount,
		RealizedSlippageBps: slippageBps(q.OutAmount, rcp.OutAmount),
		Endpoint:            addr,
	}
	g.logger.InfoContext(ctx, "swap executed",
		slog.String("token", req.IdempotencyToken),
		slog.String("tx_hash", res.TxHash),
		slog.String("output", res.OutputAmount.String()),
		slog.String("slippage_bps", res.RealizedSlippageBps.StringFixed(2)),
		slog.String("endpoint", addr),
	)
	return res, nil
}

// Balance returns the wallet's native balance through the RPC pool.
func (g *Gateway) Balance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	if g.balances == nil || g.rpcs == nil {
		return decimal.Zero, errors.New("gateway: balance: no chain rpc configured")
	}
	var bal decimal.Decimal
	_, err := g.do(ctx, g.rpcs, "balance", true, func(ctx context.Context, ep domain.Endpoint) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
		var err error
		bal, err = g.balances.NativeBalance(callCtx, ep.Address, wallet)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("gateway: balance: %w", err)
	}
	return bal, nil
}

func (g *Gateway) preflight(ctx context.Context) error {
	if !g.cfg.MinGasBalance.IsPositive() || g.balances == nil || g.rpcs == nil {
		return nil
	}
	bal, err := g.Balance(ctx, g.cfg.Wallet)
	if err != nil {
		return err
	}
	if bal.LessThan(g.cfg.MinGasBalance) {
		return &domain.ExecError{
			Op:   "preflight",
			Kind: domain.ErrorKindInsufficientBalance,
			Err: fmt.Errorf("%w: native balance %s below floor %s",
				domain.ErrInsufficientBalance, bal, g.cfg.MinGasBalance),
		}
	}
	return nil
}

func (g *Gateway) quote(ctx context.Context, endpoint string, req domain.QuoteRequest) (domain.Quote, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	return g.venue.Quote(callCtx, endpoint, req)
}

// do runs fn against endpoints from pool until it succeeds, fails with a
// business error, or retries are exhausted. It returns the address that
// served the call.
func (g *Gateway) do(ctx context.Context, pool *rpcpool.Pool, op string, read bool, fn func(context.Context, domain.Endpoint) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt-1, g.cfg.BackoffBase, g.cfg.BackoffMax)
			g.logger.DebugContext(ctx, "retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			if err := g.sleep(ctx, delay); err != nil {
				break
			}
		}

		ep, tracked, err := g.pick(pool, read)
		if err != nil {
			g.metrics.ObserveCall(pool.Name(), op, domain.ErrorKindNoHealthyEndpoint.String())
			lastErr = err
			continue
		}

		err = fn(ctx, ep)
		if err == nil {
			if tracked {
				pool.RecordSuccess(ep.Address)
			}
			g.metrics.ObserveCall(pool.Name(), op, "ok")
			return ep.Address, nil
		}
		if ctx.Err() != nil {
			// Our own cancellation says nothing about the endpoint.
			return "", &domain.ExecError{Op: op, Kind: domain.ErrorKindTimeout, Err: errors.Join(ctx.Err(), err)}
		}

		kind := domain.KindOf(err)
		g.metrics.ObserveCall(pool.Name(), op, kind.String())
		if kind.Business() {
			if tracked {
				pool.RecordSuccess(ep.Address)
			}
			return ep.Address, &domain.ExecError{Op: op, Kind: kind, Terminal: domain.IsTerminal(err), Err: err}
		}
		if tracked {
			pool.RecordFailure(ep.Address, kind)
		}
		g.logger.WarnContext(ctx, "upstream call failed",
			slog.String("op", op),
			slog.String("endpoint", ep.Address),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	return "", &domain.ExecError{Op: op, Kind: domain.KindOf(lastErr), Err: lastErr}
}

// pick selects an endpoint. Reads may use the untracked fallback endpoint
// when the pool has nothing eligible; writes never do.
func (g *Gateway) pick(pool *rpcpool.Pool, read bool) (domain.Endpoint, bool, error) {
	ep, err := pool.Select(g.clock.Now())
	if err == nil {
		return ep, true, nil
	}
	if !read || !errors.Is(err, domain.ErrNoHealthyEndpoint) {
		return domain.Endpoint{}, false, err
	}
	fb, ferr := pool.Fallback()
	if ferr != nil {
		return domain.Endpoint{}, false, err
	}
	return fb, false, nil
}

func (g *Gateway) clockSleep(ctx context.Context, d time.Duration) error {
	t := g.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func slippageBps(quoted, received decimal.Decimal) decimal.Decimal {
	if !quoted.IsPositive() {
		return decimal.Zero
	}
	return quoted.Sub(received).Div(quoted).Mul(decimal.NewFromInt(10000))
}
