// Package intake admits new positions. Requests arrive on a Redis stream or
// through the HTTP API and pass deduplication, expiry, a cross-replica claim
// lock and risk limits before reaching the monitor.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/metrics"
)

var (
	ErrDuplicate = errors.New("duplicate admission request")
	ErrExpired   = errors.New("admission request expired")
	ErrRiskLimit = errors.New("risk limit exceeded")
)

// Request asks for one position to be admitted. ID is chosen by the producer
// and identifies retries of the same request.
type Request struct {
	ID        string              `json:"id"`
	Source    string              `json:"source,omitempty"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
	Position  domain.PositionSpec `json:"position"`
}

// Admitter registers a validated position.
type Admitter interface {
	Admit(ctx context.Context, spec domain.PositionSpec) (domain.Position, error)
}

// Book lists tracked positions for risk checks.
type Book interface {
	List() []domain.Position
}

// Config tunes the intake loop.
type Config struct {
	Stream       string
	BatchSize    int
	PollInterval time.Duration
	DedupTTL     time.Duration
	// ReplayWindow rewinds the stream cursor on startup so requests written
	// shortly before a restart are still seen.
	ReplayWindow time.Duration
	Limits       Limits
}

// DefaultConfig returns the stock intake settings.
func DefaultConfig() Config {
	return Config{
		Stream:       "swapkeeper:admissions",
		BatchSize:    50,
		PollInterval: time.Second,
		DedupTTL:     10 * time.Minute,
	}
}

// Intake validates and admits requests. Admissions are serialised so risk
// limits see every earlier admission.
type Intake struct {
	admitter Admitter
	book     Book
	bus      domain.SignalBus
	locks    domain.LockManager
	metrics  *metrics.Metrics
	dedup    *Dedup
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger

	mu sync.Mutex
}

// Option customises an Intake.
type Option func(*Intake)

// WithBus enables the stream consumer.
func WithBus(b domain.SignalBus) Option { return func(in *Intake) { in.bus = b } }

// WithLocks claims each request across replicas.
func WithLocks(l domain.LockManager) Option { return func(in *Intake) { in.locks = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(in *Intake) { in.metrics = m } }

func WithClock(c clock.Clock) Option { return func(in *Intake) { in.clock = c } }

// New creates an Intake.
func New(admitter Admitter, book Book, cfg Config, logger *slog.Logger, opts ...Option) *Intake {
	def := DefaultConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	in := &Intake{
		admitter: admitter,
		book:     book,
		cfg:      cfg,
		clock:    clock.New(),
		logger:   logger.With(slog.String("component", "intake")),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.dedup = NewDedup(cfg.DedupTTL, in.clock)
	return in
}

// Submit runs one request through the admission checks. Duplicate, expired
// and risk-rejected requests return ErrDuplicate, ErrExpired and ErrRiskLimit.
func (in *Intake) Submit(ctx context.Context, req Request) (domain.Position, error) {
	pos, err := in.submit(ctx, req)
	in.metrics.ObserveAdmission(outcome(err))
	return pos, err
}

func (in *Intake) submit(ctx context.Context, req Request) (domain.Position, error) {
	if req.ID == "" {
		return domain.Position{}, fmt.Errorf("intake: request id required: %w", domain.ErrInvalidPosition)
	}
	if req.ExpiresAt != nil && in.clock.Now().After(*req.ExpiresAt) {
		return domain.Position{}, fmt.Errorf("intake: %s: %w", req.ID, ErrExpired)
	}
	if in.dedup.IsDuplicate(req.ID) {
		return domain.Position{}, fmt.Errorf("intake: %s: %w", req.ID, ErrDuplicate)
	}

	unlock := func() {}
	if in.locks != nil {
		var err error
		unlock, err = in.locks.Acquire(ctx, "admit:"+req.ID, in.cfg.DedupTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Position{}, fmt.Errorf("intake: %s: %w", req.ID, ErrDuplicate)
		}
		if err != nil {
			in.dedup.Forget(req.ID)
			return domain.Position{}, fmt.Errorf("intake: claim %s: %w", req.ID, err)
		}
	}

	pos, err := in.admit(ctx, req)
	if err != nil {
		// Failed requests may be retried under the same ID.
		in.dedup.Forget(req.ID)
		unlock()
		return domain.Position{}, err
	}
	// The claim is kept until it expires so other replicas skip the request.
	return pos, nil
}

func (in *Intake) admit(ctx context.Context, req Request) (domain.Position, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	var active []domain.Position
	for _, p := range in.book.List() {
		if !p.Status.Terminal() {
			active = append(active, p)
		}
	}
	if err := in.cfg.Limits.Check(req.Position, active); err != nil {
		return domain.Position{}, fmt.Errorf("intake: %s: %w", req.ID, err)
	}

	pos, err := in.admitter.Admit(ctx, req.Position)
	if err != nil {
		return domain.Position{}, fmt.Errorf("intake: admit %s: %w", req.ID, err)
	}
	in.logger.InfoContext(ctx, "position admitted",
		slog.String("request_id", req.ID),
		slog.String("source", req.Source),
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
	)
	return pos, nil
}

// Enqueue appends a request to the admission stream.
func (in *Intake) Enqueue(ctx context.Context, req Request) error {
	if in.bus == nil {
		return errors.New("intake: enqueue: no stream configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("intake: marshal %s: %w", req.ID, err)
	}
	if err := in.bus.StreamAppend(ctx, in.cfg.Stream, payload); err != nil {
		return fmt.Errorf("intake: enqueue %s: %w", req.ID, err)
	}
	return nil
}

// Run polls the admission stream until ctx is cancelled. Without a bus it
// only expires dedup entries.
func (in *Intake) Run(ctx context.Context) error {
	in.logger.InfoContext(ctx, "intake started",
		slog.String("stream", in.cfg.Stream),
		slog.Duration("poll_interval", in.cfg.PollInterval),
	)
	defer in.logger.Info("intake stopped")

	ticker := in.clock.Ticker(in.cfg.PollInterval)
	defer ticker.Stop()

	cursor := in.startCursor()
	cleanupEvery := int(in.cfg.DedupTTL/in.cfg.PollInterval) + 1
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if in.bus != nil {
				cursor = in.Poll(ctx, cursor)
			}
			if n%cleanupEvery == 0 {
				in.dedup.Cleanup()
			}
		}
	}
}

// startCursor is a stream ID just before the replay window. Stream IDs are
// "<unix-ms>-<seq>".
func (in *Intake) startCursor() string {
	from := in.clock.Now().Add(-in.cfg.ReplayWindow)
	return strconv.FormatInt(from.UnixMilli(), 10) + "-0"
}

// Poll reads one batch after cursor, submits each request and returns the
// advanced cursor. Undecodable messages are skipped.
func (in *Intake) Poll(ctx context.Context, cursor string) string {
	msgs, err := in.bus.StreamRead(ctx, in.cfg.Stream, cursor, in.cfg.BatchSize)
	if err != nil {
		in.logger.WarnContext(ctx, "read admission stream failed",
			slog.String("stream", in.cfg.Stream),
			slog.String("error", err.Error()),
		)
		return cursor
	}
	for _, msg := range msgs {
		cursor = msg.ID

		var req Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			in.logger.WarnContext(ctx, "undecodable admission request",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
			in.metrics.ObserveAdmission("error")
			continue
		}
		if _, err := in.Submit(ctx, req); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrDuplicate) {
				level = slog.LevelDebug
			}
			in.logger.Log(ctx, level, "admission request not admitted",
				slog.String("message_id", msg.ID),
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return cursor
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrRiskLimit), errors.Is(err, domain.ErrInvalidPosition):
		return "rejected"
	default:
		return "error"
	}
}
