package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandleEventFilters(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{"position_exited", " position_failed "}, quiet())

	require.NoError(t, n.HandleEvent(context.Background(), domain.Event{Type: domain.EventPositionAdmitted}))
	require.NoError(t, n.HandleEvent(context.Background(), domain.Event{Type: domain.EventPositionFailed}))
	require.Equal(t, []string{"Position failed"}, s.titles)
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("down")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.ErrorContains(t, err, "bad: down")
	require.Len(t, good.titles, 1)
}

func TestFormatExit(t *testing.T) {
	pnl := decimal.RequireFromString("-1.5")
	title, msg := Format(domain.Event{
		Type:        domain.EventPositionExited,
		Symbol:      "TOKEN",
		Reason:      "stop_loss",
		RealizedPnL: &pnl,
		TxHash:      "0xabc",
	})
	require.Equal(t, "Position closed", title)
	require.Contains(t, msg, "TOKEN closed on stop_loss")
	require.Contains(t, msg, "PnL: -1.5000")
	require.Contains(t, msg, "Tx: 0xabc")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "discord: unexpected status 400")
}
