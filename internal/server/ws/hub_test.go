package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

func startHub(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubStreamsEvents(t *testing.T) {
	hub, srv := startHub(t, Config{Mode: "Paper"})
	conn := dial(t, srv, nil)

	hello := readEnvelope(t, conn)
	require.Equal(t, "status", hello.Channel)
	require.Contains(t, string(hello.Payload), `"mode":"paper"`)

	require.NoError(t, hub.HandleEvent(context.Background(), domain.Event{
		Type:       domain.EventPositionExited,
		PositionID: "p-1",
		Reason:     string(domain.ExitReasonTrailingStop),
	}))

	env := readEnvelope(t, conn)
	require.Equal(t, "positions", env.Channel)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	require.Equal(t, "p-1", ev.PositionID)
	require.Equal(t, domain.EventPositionExited, ev.Type)
}

func TestHubUnsubscribe(t *testing.T) {
	hub, srv := startHub(t, Config{})
	conn := dial(t, srv, nil)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"positions"}}))
	// The subscription change is applied by the read pump.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.isSubscribed("positions") {
				return false
			}
		}
		return len(hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.HandleEvent(ctx, domain.Event{Type: domain.EventPositionAdmitted, PositionID: "skip"}))
	require.NoError(t, hub.HandleEvent(ctx, domain.Event{Type: domain.EventEndpointRecovered, Endpoint: "https://a"}))

	env := readEnvelope(t, conn)
	require.Equal(t, "endpoints", env.Channel)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t, Config{AllowedOrigins: []string{"https://dash.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"https://dash.example"}})
	readEnvelope(t, conn)
}
