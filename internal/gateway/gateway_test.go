package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/rpcpool"
)

type fakeVenue struct {
	mu        sync.Mutex
	quoteErrs []error // consumed one per Quote call; nil entries succeed
	swapErrs  []error
	quoteOut  decimal.Decimal
	swapOut   decimal.Decimal

	quoteCalls []string
	swapCalls  []domain.SwapSubmission
	swapEPs    []string
}

func (f *fakeVenue) Quote(_ context.Context, endpoint string, req domain.QuoteRequest) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls = append(f.quoteCalls, endpoint)
	if len(f.quoteErrs) > 0 {
		err := f.quoteErrs[0]
		f.quoteErrs = f.quoteErrs[1:]
		if err != nil {
			return domain.Quote{}, err
		}
	}
	return domain.Quote{ID: "q", InAmount: req.Amount, OutAmount: f.quoteOut.Mul(req.Amount)}, nil
}

func (f *fakeVenue) Swap(_ context.Context, endpoint string, sub domain.SwapSubmission) (domain.SwapReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swapCalls = append(f.swapCalls, sub)
	f.swapEPs = append(f.swapEPs, endpoint)
	if len(f.swapErrs) > 0 {
		err := f.swapErrs[0]
		f.swapErrs = f.swapErrs[1:]
		if err != nil {
			return domain.SwapReceipt{}, err
		}
	}
	out := f.swapOut
	if out.IsZero() {
		out = sub.Quote.OutAmount
	}
	return domain.SwapReceipt{TxHash: "0xfeed", OutAmount: out}, nil
}

type fakeBalances struct {
	bal decimal.Decimal
	err error
}

func (f fakeBalances) NativeBalance(context.Context, string, string) (decimal.Decimal, error) {
	return f.bal, f.err
}

type fixture struct {
	gw     *Gateway
	venue  *fakeVenue
	health *rpcpool.HealthTracker
	clock  *clock.Mock
	delays []time.Duration
}

func newFixture(t *testing.T, fallback *domain.Endpoint, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock()
	ht := rpcpool.NewHealthTracker(nil, rpcpool.HealthConfig{MaxErrorThreshold: 5, CooldownWindow: time.Minute}, clk, nil, logger)
	pool, err := rpcpool.NewPool("venue", []domain.Endpoint{
		{Address: "a", Weight: 1},
		{Address: "b", Weight: 1},
	}, fallback, ht)
	require.NoError(t, err)

	f := &fixture{
		venue:  &fakeVenue{quoteOut: decimal.NewFromInt(2)},
		health: ht,
		clock:  clk,
	}
	cfg := DefaultConfig()
	cfg.QuoteAsset = "USDC"
	cfg.Wallet = "0xwallet"
	f.gw = New(f.venue, pool, cfg, logger, append([]Option{WithClock(clk)}, opts...)...)
	f.gw.sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	return f
}

func swapReq() domain.SwapRequest {
	return domain.SwapRequest{
		InputAsset:       "TOKEN",
		OutputAsset:      "USDC",
		Amount:           decimal.NewFromInt(5),
		IdempotencyToken: "pos-1",
	}
}

func TestBackoff(t *testing.T) {
	base, max := time.Second, 30*time.Second
	require.Equal(t, time.Second, Backoff(0, base, max))
	require.Equal(t, 2*time.Second, Backoff(1, base, max))
	require.Equal(t, 16*time.Second, Backoff(4, base, max))
	require.Equal(t, 30*time.Second, Backoff(5, base, max))
	require.Equal(t, 30*time.Second, Backoff(100, base, max))
	require.Equal(t, time.Second, Backoff(-1, base, max))
}

func TestExitBudgetCoversEveryRetry(t *testing.T) {
	f := newFixture(t, nil)
	// 4 tries of 10s: read 40s, swap 80s, plus 1+2+4s backoff on each.
	require.Equal(t, 134*time.Second, f.gw.ExitBudget())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rpcHealth := rpcpool.NewHealthTracker(nil, rpcpool.HealthConfig{}, clock.NewMock(), nil, logger)
	rpcs, err := rpcpool.NewPool("rpc", []domain.Endpoint{{Address: "rpc-1", Weight: 1}}, nil, rpcHealth)
	require.NoError(t, err)
	withGas := newFixture(t, nil, WithBalances(fakeBalances{}, rpcs))
	withGas.gw.cfg.MinGasBalance = decimal.RequireFromString("0.01")
	require.Equal(t, 181*time.Second, withGas.gw.ExitBudget())
}

func TestGetPrice(t *testing.T) {
	f := newFixture(t, nil)
	price, err := f.gw.GetPrice(context.Background(), "TOKEN")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(2)))
}

func TestExecuteSwapRetriesTransientWithBackoff(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.swapErrs = []error{domain.ErrTransient, domain.ErrTimeout, nil}

	res, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.NoError(t, err)
	require.Equal(t, "0xfeed", res.TxHash)
	require.True(t, res.OutputAmount.Equal(decimal.NewFromInt(10)))
	require.True(t, res.RealizedSlippageBps.IsZero())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.delays)

	require.Len(t, f.venue.swapCalls, 3)
	for _, sub := range f.venue.swapCalls {
		require.Equal(t, "pos-1", sub.IdempotencyToken)
		require.Equal(t, "0xwallet", sub.Wallet)
	}
	// Rotation moves on after each failure.
	require.Equal(t, []string{"a", "b", "a"}, f.venue.swapEPs)
}

func TestExecuteSwapGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.swapErrs = []error{domain.ErrTransient, domain.ErrTransient, domain.ErrTransient, domain.ErrTransient, nil}

	_, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.Error(t, err)
	require.Equal(t, domain.ErrorKindTransient, domain.KindOf(err))
	require.False(t, domain.IsTerminal(err))
	require.Len(t, f.venue.swapCalls, 4)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.delays)
}

func TestExecuteSwapDoesNotRetryBusinessErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.swapErrs = []error{domain.ErrInsufficientBalance}

	_, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, domain.ErrorKindInsufficientBalance, domain.KindOf(err))
	require.Len(t, f.venue.swapCalls, 1)
	require.Empty(t, f.delays)

	st, _ := f.health.Status("a")
	require.Zero(t, st.ConsecutiveErrors)
}

func TestExecuteSwapTerminalRejection(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.swapErrs = []error{&domain.RejectionError{Code: "ASSET_DELISTED", Message: "gone", Terminal: true}}

	_, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.ErrorIs(t, err, domain.ErrVenueRejected)
	require.True(t, domain.IsTerminal(err))
}

func TestRateLimitMovesToOtherEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.quoteErrs = []error{domain.ErrRateLimited}

	_, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.NoError(t, err)

	st, _ := f.health.Status("a")
	require.Equal(t, domain.EndpointStateCooldown, st.State)
	require.Equal(t, []string{"a", "b"}, f.venue.quoteCalls)
}

func TestWritesRefusedWithoutHealthyEndpoint(t *testing.T) {
	fb := domain.Endpoint{Address: "public", Weight: 1}
	f := newFixture(t, &fb)
	f.health.RecordFailure("a", domain.ErrorKindRateLimited)
	f.health.RecordFailure("b", domain.ErrorKindRateLimited)

	_, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.ErrorIs(t, err, domain.ErrNoHealthyEndpoint)
	require.Equal(t, domain.ErrorKindNoHealthyEndpoint, domain.KindOf(err))
	require.Empty(t, f.venue.swapCalls)
	require.Len(t, f.delays, 3)
}

func TestReadsUseFallback(t *testing.T) {
	fb := domain.Endpoint{Address: "public", Weight: 1}
	f := newFixture(t, &fb)
	f.health.RecordFailure("a", domain.ErrorKindRateLimited)
	f.health.RecordFailure("b", domain.ErrorKindRateLimited)

	price, err := f.gw.GetPrice(context.Background(), "TOKEN")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.NewFromInt(2)))
	require.Equal(t, []string{"public"}, f.venue.quoteCalls)
}

func TestPreflightGasCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rpcHealth := rpcpool.NewHealthTracker(nil, rpcpool.HealthConfig{}, clock.NewMock(), nil, logger)
	rpcs, err := rpcpool.NewPool("rpc", []domain.Endpoint{{Address: "rpc-1", Weight: 1}}, nil, rpcHealth)
	require.NoError(t, err)

	f := newFixture(t, nil, WithBalances(fakeBalances{bal: decimal.RequireFromString("0.001")}, rpcs))
	f.gw.cfg.MinGasBalance = decimal.RequireFromString("0.01")

	_, err = f.gw.ExecuteSwap(context.Background(), swapReq())
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, domain.ErrorKindInsufficientBalance, domain.KindOf(err))
	require.Empty(t, f.venue.swapCalls)
}

func TestSlippage(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.swapOut = decimal.RequireFromString("9.9")

	res, err := f.gw.ExecuteSwap(context.Background(), swapReq())
	require.NoError(t, err)
	require.True(t, res.RealizedSlippageBps.Equal(decimal.NewFromInt(100)), res.RealizedSlippageBps.String())
}

func TestCancelledContextStopsRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.swapErrs = []error{domain.ErrTransient, nil}
	ctx, cancel := context.WithCancel(context.Background())
	f.gw.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.gw.ExecuteSwap(ctx, swapReq())
	require.Error(t, err)
	require.Len(t, f.venue.swapCalls, 1)
}

func TestMissingTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	req := swapReq()
	req.IdempotencyToken = ""
	_, err := f.gw.ExecuteSwap(context.Background(), req)
	require.Error(t, err)
	require.False(t, errors.Is(err, domain.ErrTransient))
}
