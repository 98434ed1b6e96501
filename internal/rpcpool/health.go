package rpcpool

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

const (
	DefaultMaxErrorThreshold = 5
	DefaultCooldownWindow    = 60 * time.Second
)

// HealthConfig controls when an endpoint is taken out of rotation.
type HealthConfig struct {
	MaxErrorThreshold int
	CooldownWindow    time.Duration
}

type endpointHealth struct {
	weight        int
	errors        int
	coolingDown   bool
	cooldownUntil time.Time
	lastError     string
}

// HealthTracker keeps per-endpoint error counters and cooldown state. It is
// safe for concurrent use; every pool that routes through it shares the same
// view of endpoint health.
type HealthTracker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointHealth
	cfg       HealthConfig
	clock     clock.Clock
	events    domain.EventSink
	logger    *slog.Logger
}

// NewHealthTracker registers the given endpoints as healthy. A nil clock uses
// the wall clock and a nil sink discards events.
func NewHealthTracker(endpoints []domain.Endpoint, cfg HealthConfig, clk clock.Clock, events domain.EventSink, logger *slog.Logger) *HealthTracker {
	if cfg.MaxErrorThreshold <= 0 {
		cfg.MaxErrorThreshold = DefaultMaxErrorThreshold
	}
	if cfg.CooldownWindow <= 0 {
		cfg.CooldownWindow = DefaultCooldownWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	t := &HealthTracker{
		endpoints: make(map[string]*endpointHealth, len(endpoints)),
		cfg:       cfg,
		clock:     clk,
		events:    events,
		logger:    logger.With(slog.String("component", "health_tracker")),
	}
	for _, ep := range endpoints {
		t.endpoints[ep.Address] = &endpointHealth{weight: ep.Weight}
	}
	return t
}

// Register adds an endpoint if it is not already tracked.
func (t *HealthTracker) Register(ep domain.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.endpoints[ep.Address]; !ok {
		t.endpoints[ep.Address] = &endpointHealth{weight: ep.Weight}
	}
}

// RecordSuccess resets the error counter and clears any cooldown.
func (t *HealthTracker) RecordSuccess(addr string) {
	t.mu.Lock()
	h, ok := t.endpoints[addr]
	if !ok {
		t.mu.Unlock()
		return
	}
	recovered := h.coolingDown
	h.errors = 0
	h.coolingDown = false
	h.cooldownUntil = time.Time{}
	h.lastError = ""
	t.mu.Unlock()

	if recovered {
		t.emitRecovered(addr)
	}
}

// RecordFailure counts a failed call. A rate-limit response puts the endpoint
// into cooldown immediately; other kinds do so once the consecutive error
// count reaches the threshold.
func (t *HealthTracker) RecordFailure(addr string, kind domain.ErrorKind) {
	t.mu.Lock()
	h, ok := t.endpoints[addr]
	if !ok {
		t.mu.Unlock()
		return
	}
	h.errors++
	h.lastError = kind.String()

	entered := false
	if kind == domain.ErrorKindRateLimited || h.errors >= t.cfg.MaxErrorThreshold {
		// Re-arming an endpoint that is already cooling down extends the window.
		entered = !h.coolingDown
		h.coolingDown = true
		h.cooldownUntil = t.clock.Now().Add(t.cfg.CooldownWindow)
	}
	errCount := h.errors
	until := h.cooldownUntil
	t.mu.Unlock()

	if !entered {
		return
	}
	t.logger.Warn("endpoint entering cooldown",
		slog.String("endpoint", addr),
		slog.String("kind", kind.String()),
		slog.Int("consecutive_errors", errCount),
		slog.Time("cooldown_until", until),
	)
	t.events.Emit(domain.Event{
		Type:     domain.EventEndpointCooldownEntered,
		Endpoint: addr,
		Reason:   kind.String(),
		At:       t.clock.Now(),
	})
}

// IsEligible reports whether addr may be selected at now. An endpoint whose
// cooldown has elapsed is reset to healthy (half-open) and becomes eligible.
func (t *HealthTracker) IsEligible(addr string, now time.Time) bool {
	t.mu.Lock()
	h, ok := t.endpoints[addr]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if !h.coolingDown {
		t.mu.Unlock()
		return true
	}
	if now.Before(h.cooldownUntil) {
		t.mu.Unlock()
		return false
	}
	h.coolingDown = false
	h.cooldownUntil = time.Time{}
	h.errors = 0
	t.mu.Unlock()

	t.emitRecovered(addr)
	return true
}

// Status returns the current status of a single endpoint.
func (t *HealthTracker) Status(addr string) (domain.EndpointStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.endpoints[addr]
	if !ok {
		return domain.EndpointStatus{}, false
	}
	return h.status(addr), true
}

// Snapshot returns every tracked endpoint ordered by address.
func (t *HealthTracker) Snapshot() []domain.EndpointStatus {
	t.mu.Lock()
	out := make([]domain.EndpointStatus, 0, len(t.endpoints))
	for addr, h := range t.endpoints {
		out = append(out, h.status(addr))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (h *endpointHealth) status(addr string) domain.EndpointStatus {
	st := domain.EndpointStatus{
		Address:           addr,
		Weight:            h.weight,
		ConsecutiveErrors: h.errors,
		State:             domain.EndpointStateHealthy,
		LastError:         h.lastError,
	}
	if h.coolingDown {
		until := h.cooldownUntil
		st.State = domain.EndpointStateCooldown
		st.CooldownUntil = &until
	}
	return st
}

func (t *HealthTracker) emitRecovered(addr string) {
	t.logger.Info("endpoint recovered", slog.String("endpoint", addr))
	t.events.Emit(domain.Event{
		Type:     domain.EventEndpointRecovered,
		Endpoint: addr,
		At:       t.clock.Now(),
	})
}
