package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("venue", "quote", "ok")
	m.ObserveExit(domain.ExitReasonStopLoss, "closed")
	m.SetOpenPositions(3)
	m.ObserveTick(time.Second)
	m.ObserveAdmission("admitted")
	m.HandleEvent(domain.Event{Type: domain.EventEndpointCooldownEntered})
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveCall("venue", "swap", "rate_limited")
	m.ObserveCall("venue", "swap", "rate_limited")
	m.ObserveExit(domain.ExitReasonTrailingStop, "closed")
	m.SetOpenPositions(4)
	m.ObserveAdmission("duplicate")
	m.HandleEvent(domain.Event{Type: domain.EventEndpointCooldownEntered, Endpoint: "https://a"})
	m.SetEndpointStatus("venue", []domain.EndpointStatus{
		{Address: "https://a", State: domain.EndpointStateCooldown},
		{Address: "https://b", State: domain.EndpointStateHealthy},
	})

	require.Equal(t, 2.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("venue", "swap", "rate_limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.exits.WithLabelValues("trailing_stop", "closed")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.openPositions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("duplicate")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cooldowns.WithLabelValues("https://a")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.endpointHealthy.WithLabelValues("venue", "https://a")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.endpointHealthy.WithLabelValues("venue", "https://b")))
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.SetOpenPositions(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "swapkeeper_open_positions 1")
}
