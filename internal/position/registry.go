package position

import (
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

var transitions = map[domain.PositionStatus][]domain.PositionStatus{
	domain.PositionStatusOpen:    {domain.PositionStatusClosing},
	domain.PositionStatusClosing: {domain.PositionStatusClosed, domain.PositionStatusFailed, domain.PositionStatusOpen},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to domain.PositionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Registry is the in-memory set of tracked positions. All status changes go
// through Transition, a compare-and-swap under the registry lock.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	clock     clock.Clock
}

// NewRegistry creates an empty registry. A nil clock uses the wall clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		positions: make(map[string]*domain.Position),
		clock:     clk,
	}
}

// Validate checks admission parameters.
func Validate(spec domain.PositionSpec) error {
	var problems []string
	if spec.Symbol == "" {
		problems = append(problems, "symbol is required")
	}
	if spec.VenueID == "" {
		problems = append(problems, "venue_id is required")
	}
	if !spec.EntryPrice.IsPositive() {
		problems = append(problems, "entry_price must be positive")
	}
	if !spec.EntryAmount.IsPositive() {
		problems = append(problems, "entry_amount must be positive")
	}
	if !spec.TargetProfitPct.IsPositive() {
		problems = append(problems, "target_profit_pct must be positive")
	}
	if !spec.StopLossPct.IsPositive() || spec.StopLossPct.GreaterThanOrEqual(one) {
		problems = append(problems, "stop_loss_pct must be in (0, 1)")
	}
	if spec.TrailingStopPct.IsNegative() || spec.TrailingStopPct.GreaterThanOrEqual(one) {
		problems = append(problems, "trailing_stop_pct must be in [0, 1)")
	}
	if spec.MaxHold < 0 {
		problems = append(problems, "max_hold must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPosition, problems)
	}
	return nil
}

// Admit registers a new open position with a fresh ID and the high-water mark
// set to the entry price. A zero EntryTime is stamped with the registry clock.
func (r *Registry) Admit(spec domain.PositionSpec) (domain.Position, error) {
	if err := Validate(spec); err != nil {
		return domain.Position{}, fmt.Errorf("position: admit: %w", err)
	}
	now := r.clock.Now()
	entry := spec.EntryTime
	if entry.IsZero() {
		entry = now
	}
	pos := &domain.Position{
		ID:              uuid.NewString(),
		Symbol:          spec.Symbol,
		VenueID:         spec.VenueID,
		QuoteAsset:      spec.QuoteAsset,
		EntryPrice:      spec.EntryPrice,
		EntryAmount:     spec.EntryAmount,
		TargetProfitPct: spec.TargetProfitPct,
		StopLossPct:     spec.StopLossPct,
		TrailingStopPct: spec.TrailingStopPct,
		MaxHold:         spec.MaxHold,
		HighWaterMark:   spec.EntryPrice,
		EntryTime:       entry,
		Status:          domain.PositionStatusOpen,
		Strategy:        spec.Strategy,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	r.positions[pos.ID] = pos
	r.mu.Unlock()
	return *pos, nil
}

// Restore re-registers a persisted position after a restart. A position that
// was mid-exit comes back open with its attempt counter rewound, so the
// retried exit reuses the idempotency token of the interrupted one.
func (r *Registry) Restore(pos domain.Position) error {
	if pos.Status.Terminal() {
		return fmt.Errorf("position: restore %s: status %s is terminal", pos.ID, pos.Status)
	}
	if pos.Status == domain.PositionStatusClosing {
		pos.Status = domain.PositionStatusOpen
		if pos.ExitAttempts > 0 {
			pos.ExitAttempts--
		}
	}
	if pos.HighWaterMark.LessThan(pos.EntryPrice) {
		pos.HighWaterMark = pos.EntryPrice
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.positions[pos.ID]; ok {
		return fmt.Errorf("position: restore %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	p := pos
	r.positions[p.ID] = &p
	return nil
}

// Get returns a copy of the position.
func (r *Registry) Get(id string) (domain.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// List returns copies of every tracked position ordered by entry time.
func (r *Registry) List() []domain.Position {
	return r.filter(func(*domain.Position) bool { return true })
}

// ListOpen returns copies of every open position ordered by entry time.
func (r *Registry) ListOpen() []domain.Position {
	return r.filter(func(p *domain.Position) bool { return p.Status == domain.PositionStatusOpen })
}

// ListTerminal returns closed and failed positions still held in memory.
func (r *Registry) ListTerminal() []domain.Position {
	return r.filter(func(p *domain.Position) bool { return p.Status.Terminal() })
}

// CountActive returns the number of open or closing positions.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.positions {
		if !p.Status.Terminal() {
			n++
		}
	}
	return n
}

func (r *Registry) filter(keep func(*domain.Position) bool) []domain.Position {
	r.mu.RLock()
	out := make([]domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		if keep(p) {
			out = append(out, *p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Transition moves a position from -> to only if its current status is from
// and the edge is legal. A false return means another caller got there first
// (or the position is unknown). Entering closing counts an exit attempt.
func (r *Registry) Transition(id string, from, to domain.PositionStatus) bool {
	if !CanTransition(from, to) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok || p.Status != from {
		return false
	}
	p.Status = to
	p.UpdatedAt = r.clock.Now()
	if to == domain.PositionStatusClosing {
		p.ExitAttempts++
	}
	if to.Terminal() {
		closedAt := p.UpdatedAt
		p.ClosedAt = &closedAt
	}
	return true
}

// Reopen moves a closing position back to open. With keepToken set the
// attempt counter is rewound, so the next exit resubmits the idempotency
// token of the attempt that just failed.
func (r *Registry) Reopen(id string, keepToken bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok || p.Status != domain.PositionStatusClosing {
		return false
	}
	p.Status = domain.PositionStatusOpen
	p.UpdatedAt = r.clock.Now()
	if keepToken && p.ExitAttempts > 0 {
		p.ExitAttempts--
	}
	return true
}

// UpdateHighWaterMark raises the mark of an open position. Lower values are
// ignored so the mark never decreases.
func (r *Registry) UpdateHighWaterMark(id string, hwm decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok || p.Status != domain.PositionStatusOpen {
		return false
	}
	if hwm.GreaterThan(p.HighWaterMark) {
		p.HighWaterMark = hwm
		p.UpdatedAt = r.clock.Now()
	}
	return true
}

// SetExitOutcome records the result of an exit attempt. Only the holder of
// the closing state may call it.
func (r *Registry) SetExitOutcome(id string, out domain.ExitOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return fmt.Errorf("position: set exit outcome %s: %w", id, domain.ErrNotFound)
	}
	if p.Status != domain.PositionStatusClosing {
		return fmt.Errorf("position: set exit outcome %s: status is %s, want closing", id, p.Status)
	}
	p.ExitReason = out.Reason
	p.ExitPrice = out.ExitPrice
	p.RealizedPnL = out.RealizedPnL
	p.TxHash = out.TxHash
	p.FailureReason = out.FailureReason
	p.UpdatedAt = r.clock.Now()
	return nil
}

// Remove drops a terminal position from memory.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return fmt.Errorf("position: remove %s: %w", id, domain.ErrNotFound)
	}
	if !p.Status.Terminal() {
		return fmt.Errorf("position: remove %s: status %s is not terminal", id, p.Status)
	}
	delete(r.positions, id)
	return nil
}
