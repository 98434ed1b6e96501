package position

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

func sampleSpec() domain.PositionSpec {
	return domain.PositionSpec{
		Symbol:          "TOKEN",
		VenueID:         "mint-1",
		QuoteAsset:      "USDC",
		EntryPrice:      d("100"),
		EntryAmount:     d("2"),
		TargetProfitPct: d("0.25"),
		StopLossPct:     d("0.10"),
		TrailingStopPct: d("0.05"),
		MaxHold:         time.Hour,
	}
}

func TestAdmit(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(t0)
	reg := NewRegistry(clk)

	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)
	require.NotEmpty(t, pos.ID)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.True(t, pos.HighWaterMark.Equal(pos.EntryPrice))
	require.Equal(t, t0, pos.EntryTime)

	got, ok := reg.Get(pos.ID)
	require.True(t, ok)
	require.Equal(t, pos.ID, got.ID)
	require.Len(t, reg.ListOpen(), 1)
}

func TestAdmitRejectsInvalid(t *testing.T) {
	reg := NewRegistry(nil)

	spec := sampleSpec()
	spec.EntryPrice = d("0")
	_, err := reg.Admit(spec)
	require.ErrorIs(t, err, domain.ErrInvalidPosition)

	spec = sampleSpec()
	spec.StopLossPct = d("1")
	_, err = reg.Admit(spec)
	require.ErrorIs(t, err, domain.ErrInvalidPosition)

	require.Empty(t, reg.List())
}

func TestTransitionLifecycle(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	require.False(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosed))
	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	require.False(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	require.Empty(t, reg.ListOpen())

	require.True(t, reg.Transition(pos.ID, domain.PositionStatusClosing, domain.PositionStatusOpen))
	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))

	got, _ := reg.Get(pos.ID)
	require.Equal(t, 2, got.ExitAttempts)

	require.True(t, reg.Transition(pos.ID, domain.PositionStatusClosing, domain.PositionStatusClosed))
	require.False(t, reg.Transition(pos.ID, domain.PositionStatusClosed, domain.PositionStatusOpen))

	got, _ = reg.Get(pos.ID)
	require.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	require.Len(t, reg.ListTerminal(), 1)
}

func TestTransitionUnknown(t *testing.T) {
	reg := NewRegistry(nil)
	require.False(t, reg.Transition("missing", domain.PositionStatusOpen, domain.PositionStatusClosing))
}

func TestTransitionSingleWinner(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing) {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	got, _ := reg.Get(pos.ID)
	require.Equal(t, 1, got.ExitAttempts)
}

func TestUpdateHighWaterMark(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	require.True(t, reg.UpdateHighWaterMark(pos.ID, d("110")))
	require.True(t, reg.UpdateHighWaterMark(pos.ID, d("105")))
	got, _ := reg.Get(pos.ID)
	require.True(t, got.HighWaterMark.Equal(d("110")))

	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	require.False(t, reg.UpdateHighWaterMark(pos.ID, d("200")))
}

func TestSetExitOutcomeRequiresClosing(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	pnl := d("12")
	out := domain.ExitOutcome{Reason: domain.ExitReasonTargetProfit, RealizedPnL: &pnl, TxHash: "0xabc"}
	require.Error(t, reg.SetExitOutcome(pos.ID, out))

	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	require.NoError(t, reg.SetExitOutcome(pos.ID, out))

	got, _ := reg.Get(pos.ID)
	require.Equal(t, "0xabc", got.TxHash)
	require.Equal(t, domain.ExitReasonTargetProfit, got.ExitReason)
	require.True(t, got.RealizedPnL.Equal(pnl))
}

func TestRemoveOnlyTerminal(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	require.Error(t, reg.Remove(pos.ID))
	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	require.True(t, reg.Transition(pos.ID, domain.PositionStatusClosing, domain.PositionStatusFailed))
	require.NoError(t, reg.Remove(pos.ID))

	_, ok := reg.Get(pos.ID)
	require.False(t, ok)
	require.ErrorIs(t, reg.Remove(pos.ID), domain.ErrNotFound)
}

func TestRestoreClosingRewindsAttempt(t *testing.T) {
	reg := NewRegistry(nil)
	pos := domain.Position{
		ID:            "restored",
		Symbol:        "TOKEN",
		EntryPrice:    d("100"),
		EntryAmount:   d("1"),
		HighWaterMark: d("120"),
		Status:        domain.PositionStatusClosing,
		ExitAttempts:  3,
	}
	require.NoError(t, reg.Restore(pos))

	got, ok := reg.Get("restored")
	require.True(t, ok)
	require.Equal(t, domain.PositionStatusOpen, got.Status)
	require.Equal(t, 2, got.ExitAttempts)

	// The retried exit gets the same attempt number as the interrupted one.
	require.True(t, reg.Transition("restored", domain.PositionStatusOpen, domain.PositionStatusClosing))
	got, _ = reg.Get("restored")
	require.Equal(t, 3, got.ExitAttempts)

	require.ErrorIs(t, reg.Restore(pos), domain.ErrAlreadyExists)

	pos.ID = "done"
	pos.Status = domain.PositionStatusClosed
	require.Error(t, reg.Restore(pos))
}

func TestReopen(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	require.False(t, reg.Reopen(pos.ID, true), "open position cannot be reopened")

	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	require.True(t, reg.Reopen(pos.ID, true))
	got, _ := reg.Get(pos.ID)
	require.Equal(t, domain.PositionStatusOpen, got.Status)
	require.Equal(t, 0, got.ExitAttempts)

	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	got, _ = reg.Get(pos.ID)
	require.Equal(t, 1, got.ExitAttempts)

	require.True(t, reg.Reopen(pos.ID, false))
	require.True(t, reg.Transition(pos.ID, domain.PositionStatusOpen, domain.PositionStatusClosing))
	got, _ = reg.Get(pos.ID)
	require.Equal(t, 2, got.ExitAttempts)

	require.False(t, reg.Reopen("missing", true))
}

func TestGetReturnsCopy(t *testing.T) {
	reg := NewRegistry(nil)
	pos, err := reg.Admit(sampleSpec())
	require.NoError(t, err)

	got, _ := reg.Get(pos.ID)
	got.Status = domain.PositionStatusClosed

	again, _ := reg.Get(pos.ID)
	require.Equal(t, domain.PositionStatusOpen, again.Status)
}
