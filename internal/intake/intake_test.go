package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/metrics"
	"github.com/alanyoungcy/swapkeeper/internal/position"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// registryAdmitter admits straight into a registry.
type registryAdmitter struct {
	reg   *position.Registry
	calls int
	err   error
}

func (a *registryAdmitter) Admit(_ context.Context, spec domain.PositionSpec) (domain.Position, error) {
	a.calls++
	if a.err != nil {
		return domain.Position{}, a.err
	}
	return a.reg.Admit(spec)
}

type memBus struct {
	mu     sync.Mutex
	stream []domain.StreamMessage
	seq    int
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.stream = append(b.stream, domain.StreamMessage{ID: fmt.Sprintf("9999999999999-%d", b.seq), Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

func spec(price, amount int64) domain.PositionSpec {
	return domain.PositionSpec{
		Symbol:          "SOL",
		VenueID:         "SOL",
		QuoteAsset:      "USDC",
		EntryPrice:      decimal.NewFromInt(price),
		EntryAmount:     decimal.NewFromInt(amount),
		TargetProfitPct: decimal.RequireFromString("0.25"),
		StopLossPct:     decimal.RequireFromString("0.10"),
	}
}

type fixture struct {
	intake   *Intake
	admitter *registryAdmitter
	reg      *position.Registry
	bus      *memBus
	locks    *memLocks
	clock    *clock.Mock
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, limits Limits) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := position.NewRegistry(clk)
	f := &fixture{
		admitter: &registryAdmitter{reg: reg},
		reg:      reg,
		bus:      &memBus{},
		locks:    &memLocks{},
		clock:    clk,
		metrics:  metrics.New(),
	}
	cfg := DefaultConfig()
	cfg.Limits = limits
	f.intake = New(f.admitter, reg, cfg, discardLogger(),
		WithBus(f.bus),
		WithLocks(f.locks),
		WithMetrics(f.metrics),
		WithClock(clk),
	)
	return f
}

func TestSubmitAdmits(t *testing.T) {
	f := newFixture(t, Limits{})
	pos, err := f.intake.Submit(context.Background(), Request{ID: "r-1", Position: spec(100, 1)})
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.Len(t, f.reg.ListOpen(), 1)
	require.True(t, f.locks.held["admit:r-1"], "claim kept after admission")
}

func TestSubmitDuplicate(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	_, err := f.intake.Submit(ctx, Request{ID: "r-1", Position: spec(100, 1)})
	require.NoError(t, err)

	_, err = f.intake.Submit(ctx, Request{ID: "r-1", Position: spec(100, 1)})
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, 1, f.admitter.calls)
}

func TestSubmitClaimedByOtherReplica(t *testing.T) {
	f := newFixture(t, Limits{})
	f.locks.held = map[string]bool{"admit:r-9": true}

	_, err := f.intake.Submit(context.Background(), Request{ID: "r-9", Position: spec(100, 1)})
	require.ErrorIs(t, err, ErrDuplicate)
	require.Zero(t, f.admitter.calls)
}

func TestSubmitExpired(t *testing.T) {
	f := newFixture(t, Limits{})
	past := f.clock.Now().Add(-time.Second)
	_, err := f.intake.Submit(context.Background(), Request{ID: "r-1", ExpiresAt: &past, Position: spec(100, 1)})
	require.ErrorIs(t, err, ErrExpired)
	require.Zero(t, f.admitter.calls)
}

func TestSubmitRequiresID(t *testing.T) {
	f := newFixture(t, Limits{})
	_, err := f.intake.Submit(context.Background(), Request{Position: spec(100, 1)})
	require.ErrorIs(t, err, domain.ErrInvalidPosition)
}

func TestRiskLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("max open", func(t *testing.T) {
		f := newFixture(t, Limits{MaxOpenPositions: 1})
		_, err := f.intake.Submit(ctx, Request{ID: "a", Position: spec(100, 1)})
		require.NoError(t, err)
		_, err = f.intake.Submit(ctx, Request{ID: "b", Position: spec(100, 1)})
		require.ErrorIs(t, err, ErrRiskLimit)
	})

	t.Run("entry notional", func(t *testing.T) {
		f := newFixture(t, Limits{MaxEntryNotional: decimal.NewFromInt(500)})
		_, err := f.intake.Submit(ctx, Request{ID: "a", Position: spec(100, 6)})
		require.ErrorIs(t, err, ErrRiskLimit)
		_, err = f.intake.Submit(ctx, Request{ID: "b", Position: spec(100, 5)})
		require.NoError(t, err)
	})

	t.Run("total notional", func(t *testing.T) {
		f := newFixture(t, Limits{MaxTotalNotional: decimal.NewFromInt(250)})
		_, err := f.intake.Submit(ctx, Request{ID: "a", Position: spec(100, 2)})
		require.NoError(t, err)
		_, err = f.intake.Submit(ctx, Request{ID: "b", Position: spec(100, 1)})
		require.ErrorIs(t, err, ErrRiskLimit)
	})
}

func TestRejectedRequestCanBeRetried(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()
	f.admitter.err = errors.New("store down")

	_, err := f.intake.Submit(ctx, Request{ID: "r-1", Position: spec(100, 1)})
	require.Error(t, err)
	require.False(t, f.locks.held["admit:r-1"])

	f.admitter.err = nil
	_, err = f.intake.Submit(ctx, Request{ID: "r-1", Position: spec(100, 1)})
	require.NoError(t, err)
}

func TestPollAdmitsFromStream(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx := context.Background()

	require.NoError(t, f.intake.Enqueue(ctx, Request{ID: "r-1", Position: spec(100, 1)}))
	require.NoError(t, f.bus.StreamAppend(ctx, "", []byte("not json")))
	require.NoError(t, f.intake.Enqueue(ctx, Request{ID: "r-1", Position: spec(100, 1)}))
	require.NoError(t, f.intake.Enqueue(ctx, Request{ID: "r-2", Position: spec(50, 2)}))

	cursor := f.intake.Poll(ctx, "0")
	require.Equal(t, "9999999999999-4", cursor)
	require.Len(t, f.reg.ListOpen(), 2)

	// Nothing new after the cursor.
	require.Equal(t, cursor, f.intake.Poll(ctx, cursor))
	require.Len(t, f.reg.ListOpen(), 2)
}

func TestRequestJSON(t *testing.T) {
	raw := `{"id":"r-1","source":"signals","position":{"symbol":"SOL","venue_id":"So111","entry_price":"100.5","entry_amount":"2","target_profit_pct":"0.25","stop_loss_pct":"0.1","trailing_stop_pct":"0","max_hold":0}}`
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	require.Equal(t, "r-1", req.ID)
	require.Nil(t, req.ExpiresAt)
	require.Equal(t, "201", req.Position.EntryPrice.Mul(req.Position.EntryAmount).String())
}

func TestStartCursor(t *testing.T) {
	f := newFixture(t, Limits{})
	f.intake.cfg.ReplayWindow = time.Minute
	want := fmt.Sprintf("%d-0", f.clock.Now().Add(-time.Minute).UnixMilli())
	require.Equal(t, want, f.intake.startCursor())
}

func TestDedupExpires(t *testing.T) {
	clk := clock.NewMock()
	d := NewDedup(time.Minute, clk)
	require.False(t, d.IsDuplicate("a"))
	require.True(t, d.IsDuplicate("a"))

	clk.Add(time.Minute)
	d.Cleanup()
	require.Zero(t, d.Len())
	require.False(t, d.IsDuplicate("a"))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.intake.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
