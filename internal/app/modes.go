package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapkeeper/internal/config"
	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/event"
	"github.com/alanyoungcy/swapkeeper/internal/gateway"
	"github.com/alanyoungcy/swapkeeper/internal/intake"
	"github.com/alanyoungcy/swapkeeper/internal/monitor"
	"github.com/alanyoungcy/swapkeeper/internal/platform/aggregator"
	"github.com/alanyoungcy/swapkeeper/internal/platform/chain"
	"github.com/alanyoungcy/swapkeeper/internal/platform/paper"
	"github.com/alanyoungcy/swapkeeper/internal/position"
	"github.com/alanyoungcy/swapkeeper/internal/rpcpool"
	"github.com/alanyoungcy/swapkeeper/internal/server"
	"github.com/alanyoungcy/swapkeeper/internal/server/handler"
	"github.com/alanyoungcy/swapkeeper/internal/server/ws"
)

// eventBufferSize bounds the in-process event queue; overflow is counted and
// dropped.
const eventBufferSize = 1024

// endpointMetricsInterval is how often pool health is exported to Prometheus.
const endpointMetricsInterval = 15 * time.Second

// TradeMode runs the execution stack: endpoint pools, gateway, position
// monitor, admission intake and, when enabled, the HTTP API. With paperMode
// set, quotes are real and swaps are filled locally.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, paperMode bool) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("paper", paperMode))

	if !paperMode && deps.Signer == nil {
		return errors.New("app: live mode requires a wallet key")
	}

	g, ctx := errgroup.WithContext(ctx)

	bus := event.NewBus(eventBufferSize, a.logger)

	// --- Endpoint pools ---
	venuePool, err := newPool("venue",
		a.cfg.Venue.Endpoints, a.cfg.Venue.Fallback,
		a.cfg.Venue.MaxErrorThreshold, a.cfg.Venue.CooldownWindow.Duration,
		bus, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	pools := []*rpcpool.Pool{venuePool}

	var rpcPool *rpcpool.Pool
	if len(a.cfg.RPC.Endpoints) > 0 {
		rpcPool, err = newPool("rpc",
			a.cfg.RPC.Endpoints, a.cfg.RPC.Fallback,
			a.cfg.RPC.MaxErrorThreshold, a.cfg.RPC.CooldownWindow.Duration,
			bus, a.logger)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		pools = append(pools, rpcPool)
	}

	// --- Execution gateway ---
	client := aggregator.NewClient(deps.Signer, deps.HMAC)
	var venue gateway.Venue = client
	if paperMode {
		venue = paper.NewVenue(client, a.logger)
	}

	gwCfg := gateway.Config{
		Wallet:           deps.walletAddress(),
		QuoteAsset:       a.cfg.Gateway.QuoteAsset,
		PriceQuoteAmount: a.cfg.Gateway.PriceQuoteAmount,
		MaxRetries:       a.cfg.Gateway.MaxRetries,
		BackoffBase:      a.cfg.Gateway.BackoffBase.Duration,
		BackoffMax:       a.cfg.Gateway.BackoffMax.Duration,
		CallTimeout:      a.cfg.Gateway.Timeout.Duration,
		MaxSlippageBps:   a.cfg.Gateway.MaxSlippageBps,
	}
	gwOpts := []gateway.Option{gateway.WithMetrics(deps.Metrics)}
	if deps.PriceCache != nil {
		gwOpts = append(gwOpts, gateway.WithPriceCache(deps.PriceCache))
	}
	if rpcPool != nil {
		chainClient := chain.NewClient()
		a.closers = append(a.closers, chainClient.Close)
		gwOpts = append(gwOpts, gateway.WithBalances(chainClient, rpcPool))
		if !paperMode {
			gwCfg.MinGasBalance = a.cfg.RPC.MinGasBalance
		}
	}
	gw := gateway.New(venue, venuePool, gwCfg, a.logger, gwOpts...)

	// --- Position monitor ---
	registry := position.NewRegistry(nil)
	monOpts := []monitor.Option{monitor.WithMetrics(deps.Metrics)}
	if deps.PositionStore != nil {
		monOpts = append(monOpts, monitor.WithStore(deps.PositionStore))
	}
	if deps.Archiver != nil {
		monOpts = append(monOpts, monitor.WithArchiver(deps.Archiver))
	}
	tickTimeout := a.cfg.Monitor.TickTimeout.Duration
	if budget := gw.ExitBudget(); tickTimeout < budget {
		a.logger.WarnContext(ctx, "monitor.tick_timeout below gateway retry budget; raising it",
			slog.Duration("configured", tickTimeout),
			slog.Duration("budget", budget),
		)
		tickTimeout = budget
	}
	mon := monitor.New(registry, gw, gw, bus, monitor.Config{
		TickInterval:   a.cfg.Monitor.TickInterval.Duration,
		TickTimeout:    tickTimeout,
		Concurrency:    a.cfg.Monitor.Concurrency,
		MaxSlippageBps: a.cfg.Gateway.MaxSlippageBps,
		Defaults:       exitDefaults(a.cfg),
	}, a.logger, monOpts...)

	restored, err := mon.Restore(ctx)
	if err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}
	if restored > 0 {
		a.logger.InfoContext(ctx, "restored positions", slog.Int("count", restored))
	}

	// --- Admission intake ---
	inOpts := []intake.Option{intake.WithMetrics(deps.Metrics)}
	if deps.LockManager != nil {
		inOpts = append(inOpts, intake.WithLocks(deps.LockManager))
	}
	if a.cfg.Intake.Enabled && deps.SignalBus != nil {
		inOpts = append(inOpts, intake.WithBus(deps.SignalBus))
	}
	in := intake.New(mon, registry, intake.Config{
		Stream:       a.cfg.Intake.Stream,
		BatchSize:    a.cfg.Intake.BatchSize,
		PollInterval: a.cfg.Intake.PollInterval.Duration,
		DedupTTL:     a.cfg.Intake.DedupTTL.Duration,
		ReplayWindow: a.cfg.Intake.ReplayWindow.Duration,
		Limits: intake.Limits{
			MaxOpenPositions: a.cfg.Intake.MaxOpenPositions,
			MaxEntryNotional: a.cfg.Intake.MaxEntryNotional,
			MaxTotalNotional: a.cfg.Intake.MaxTotalNotional,
		},
	}, a.logger, inOpts...)

	// --- HTTP API ---
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = a.startServer(ctx, g, deps, liveState{
			registry:  registry,
			submitter: in,
			pools:     poolSources(pools),
		})
	}

	a.subscribeEvents(bus, deps, hub)

	runWithBus(ctx, g, bus, mon.Run, in.Run)
	g.Go(func() error { return a.exportEndpointMetrics(ctx, deps, pools) })

	return g.Wait()
}

// ServerMode serves the read-only API over persisted history. It runs no
// monitor; admissions are rejected because nothing would evaluate them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, liveState{})
	return g.Wait()
}

// runWithBus runs each producer on g, and the bus until every producer has
// returned. Events emitted by the monitor's last tick after ctx ends are
// still dispatched before the bus drains and stops.
func runWithBus(ctx context.Context, g *errgroup.Group, bus *event.Bus, producers ...func(context.Context) error) {
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	for _, run := range producers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return run(ctx)
		})
	}
	g.Go(func() error { return bus.Run(busCtx) })
	g.Go(func() error {
		wg.Wait()
		stopBus()
		return nil
	})
}

// subscribeEvents attaches every configured consumer to the in-process bus.
func (a *App) subscribeEvents(bus *event.Bus, deps *Dependencies, hub *ws.Hub) {
	bus.Subscribe("log", event.Log(a.logger))
	bus.Subscribe("metrics", func(_ context.Context, e domain.Event) error {
		deps.Metrics.HandleEvent(e)
		return nil
	})
	if deps.AuditStore != nil {
		bus.Subscribe("audit", event.Audit(deps.AuditStore))
	}
	if deps.SignalBus != nil {
		// The hub reads these back from Redis, so every replica's clients
		// see every replica's events.
		bus.Subscribe("publish", event.Publish(deps.SignalBus))
	} else if hub != nil {
		bus.Subscribe("ws", hub.HandleEvent)
	}
	if deps.Notifier.Enabled() {
		bus.Subscribe("notify", deps.Notifier.HandleEvent)
	}
}

// liveState is what a running monitor exposes to the API. It is empty in
// server mode.
type liveState struct {
	registry  *position.Registry
	submitter handler.Submitter
	pools     []handler.PoolSource
}

// startServer builds the API server and registers its goroutines on g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, live liveState) *ws.Hub {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})

	var (
		reader handler.PositionReader
		active handler.ActiveCounter
	)
	if live.registry != nil {
		reader, active = live.registry, live.registry
	}
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.walletAddress(), a.startedAt, active),
		Positions: handler.NewPositionHandler(reader, deps.PositionStore, live.submitter, a.logger),
		Endpoints: handler.NewEndpointHandler(live.pools...),
		Metrics:   deps.Metrics.Handler(),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return hub
}

// exportEndpointMetrics publishes pool health gauges until ctx ends.
func (a *App) exportEndpointMetrics(ctx context.Context, deps *Dependencies, pools []*rpcpool.Pool) error {
	ticker := time.NewTicker(endpointMetricsInterval)
	defer ticker.Stop()
	for {
		for _, p := range pools {
			deps.Metrics.SetEndpointStatus(p.Name(), p.Snapshot())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// newPool builds one health tracker and its weighted pool.
func newPool(name string, eps []config.EndpointConfig, fallback string, threshold int, cooldown time.Duration, events domain.EventSink, logger *slog.Logger) (*rpcpool.Pool, error) {
	endpoints := make([]domain.Endpoint, 0, len(eps))
	for _, ep := range eps {
		endpoints = append(endpoints, domain.Endpoint{Address: ep.URL, Weight: ep.Weight})
	}
	health := rpcpool.NewHealthTracker(endpoints, rpcpool.HealthConfig{
		MaxErrorThreshold: threshold,
		CooldownWindow:    cooldown,
	}, nil, events, logger.With(slog.String("pool", name)))

	var fb *domain.Endpoint
	if fallback != "" {
		fb = &domain.Endpoint{Address: fallback, Weight: 1}
	}
	pool, err := rpcpool.NewPool(name, endpoints, fb, health)
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", name, err)
	}
	return pool, nil
}

func poolSources(pools []*rpcpool.Pool) []handler.PoolSource {
	out := make([]handler.PoolSource, len(pools))
	for i, p := range pools {
		out[i] = p
	}
	return out
}

func exitDefaults(cfg *config.Config) position.ExitDefaults {
	return position.ExitDefaults{
		QuoteAsset:      cfg.Gateway.QuoteAsset,
		TargetProfitPct: cfg.Exit.TargetProfitPct,
		StopLossPct:     cfg.Exit.StopLossPct,
		TrailingStopPct: cfg.Exit.TrailingStopPct,
		MaxHold:         cfg.Exit.MaxHold.Duration,
	}
}
