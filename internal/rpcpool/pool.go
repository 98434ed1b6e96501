package rpcpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// Pool selects endpoints by weighted round-robin over those the health
// tracker considers eligible.
type Pool struct {
	name      string
	endpoints []domain.Endpoint // sorted by weight desc, then address
	fallback  *domain.Endpoint
	health    *HealthTracker

	mu     sync.Mutex
	cursor uint64
}

// NewPool builds a pool over endpoints. Every endpoint is registered with the
// tracker. fallback may be nil; it is never health-tracked.
func NewPool(name string, endpoints []domain.Endpoint, fallback *domain.Endpoint, health *HealthTracker) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("rpcpool: %s: no endpoints configured", name)
	}
	sorted := make([]domain.Endpoint, 0, len(endpoints))
	seen := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		if ep.Address == "" {
			return nil, fmt.Errorf("rpcpool: %s: endpoint address is empty", name)
		}
		if ep.Weight <= 0 {
			return nil, fmt.Errorf("rpcpool: %s: endpoint %q weight must be positive", name, ep.Address)
		}
		if seen[ep.Address] {
			return nil, fmt.Errorf("rpcpool: %s: duplicate endpoint %q", name, ep.Address)
		}
		seen[ep.Address] = true
		sorted = append(sorted, ep)
		health.Register(ep)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].Address < sorted[j].Address
	})
	return &Pool{
		name:      name,
		endpoints: sorted,
		fallback:  fallback,
		health:    health,
	}, nil
}

// Name identifies the pool in logs and metrics.
func (p *Pool) Name() string { return p.name }

// Health returns the tracker the pool reports to.
func (p *Pool) Health() *HealthTracker { return p.health }

// Endpoints returns the configured endpoints in routing order.
func (p *Pool) Endpoints() []domain.Endpoint {
	out := make([]domain.Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Select returns the next eligible endpoint. Each eligible endpoint occupies
// Weight consecutive slots of the rotation, so weights 2 and 1 yield A, A, B.
func (p *Pool) Select(now time.Time) (domain.Endpoint, error) {
	eligible := make([]domain.Endpoint, 0, len(p.endpoints))
	total := 0
	for _, ep := range p.endpoints {
		if p.health.IsEligible(ep.Address, now) {
			eligible = append(eligible, ep)
			total += ep.Weight
		}
	}
	if total == 0 {
		return domain.Endpoint{}, fmt.Errorf("rpcpool: %s: %w", p.name, domain.ErrNoHealthyEndpoint)
	}

	p.mu.Lock()
	slot := int(p.cursor % uint64(total))
	p.cursor++
	p.mu.Unlock()

	for _, ep := range eligible {
		if slot < ep.Weight {
			return ep, nil
		}
		slot -= ep.Weight
	}
	return eligible[len(eligible)-1], nil
}

// ErrNoFallback is returned when no fallback endpoint is configured.
var ErrNoFallback = errors.New("rpcpool: no fallback endpoint configured")

// Fallback returns the last-resort endpoint used for reads when every pooled
// endpoint is cooling down.
func (p *Pool) Fallback() (domain.Endpoint, error) {
	if p.fallback == nil {
		return domain.Endpoint{}, fmt.Errorf("rpcpool: %s: %w", p.name, ErrNoFallback)
	}
	return *p.fallback, nil
}

// RecordSuccess forwards to the health tracker.
func (p *Pool) RecordSuccess(addr string) { p.health.RecordSuccess(addr) }

// RecordFailure forwards to the health tracker.
func (p *Pool) RecordFailure(addr string, kind domain.ErrorKind) {
	p.health.RecordFailure(addr, kind)
}

// Snapshot returns the health of this pool's endpoints in routing order.
func (p *Pool) Snapshot() []domain.EndpointStatus {
	out := make([]domain.EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if st, ok := p.health.Status(ep.Address); ok {
			out = append(out, st)
		}
	}
	return out
}
