// internal/bot/runner.go
package bot

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-trench-bot/internal/calls"
	"solana-trench-bot/internal/command"
	"solana-trench-bot/internal/config"
	"solana-trench-bot/internal/dedup"
	"solana-trench-bot/internal/engine"
	"solana-trench-bot/internal/events"
	"solana-trench-bot/internal/monitor"
	"solana-trench-bot/internal/notify"
	"solana-trench-bot/internal/sources"
	"solana-trench-bot/internal/storage"
	"solana-trench-bot/internal/trading"
	"solana-trench-bot/internal/utils/logger"
)

const (
	eventBusBuffer   = 100
	detectionBuffer  = 64
	shutdownTimeout  = 30 * time.Second
	simulatedDrift   = 0.05
	restoreTimeout   = 30 * time.Second
	drainWaitTimeout = 15 * time.Second
)

// Runner wires the whole bot together and owns its lifecycle.
type Runner struct {
	cfg    *config.Config
	logger *logger.Logger

	store    storage.Store
	provider trading.Provider
	caller   *calls.Caller
	bus      *events.Bus
	engine   *engine.Engine
	dedup    *dedup.Deduplicator
	monitor  *monitor.Loop
	cmdBus   *command.Bus
	adapter  *command.Adapter
	group    *sources.PushSource
	feed     *sources.WebFeed
}

// NewRunner creates an uninitialized runner. Initialize builds the
// component graph; Run starts it.
func NewRunner(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{cfg: cfg, logger: log}
}

// Initialize constructs every component. Malformed trading settings and an
// unreachable postgres are fatal here, before anything starts.
func (r *Runner) Initialize(ctx context.Context) error {
	defer r.logger.TrackPerformance("initialize")()

	settings, err := engine.NewSettingsStore(engine.Settings{
		AutoTradeEnabled: r.cfg.AutoTrade,
		BuyAmountSol:     r.cfg.BuyAmountSol,
		TargetMultiplier: r.cfg.TargetMultiplier,
		SellPercentage:   r.cfg.SellPercentage,
	})
	if err != nil {
		return err
	}

	if r.cfg.PostgresURL != "" {
		store, err := storage.NewPostgresStore(ctx, r.cfg.PostgresURL, r.logger.Logger)
		if err != nil {
			return err
		}
		r.store = store
	} else {
		r.logger.Info("No postgres_url configured, positions held in memory")
		r.store = storage.NewMemoryStore()
	}

	r.provider = trading.NewSimulatedProvider(simulatedDrift, time.Now().UnixNano(), r.logger.Logger)

	policy := calls.DefaultRetryPolicy()
	policy.MaxAttempts = uint(r.cfg.Retries)
	r.caller = calls.NewCaller(map[string]calls.Limits{
		calls.CategoryPrice:  {PerSecond: r.cfg.PriceRPS, Burst: r.cfg.RateBurst, MaxWait: r.cfg.RateMaxWait()},
		calls.CategorySwap:   {PerSecond: r.cfg.SwapRPS, Burst: r.cfg.RateBurst, MaxWait: r.cfg.RateMaxWait()},
		calls.CategoryNotify: {PerSecond: r.cfg.NotifyRPS, Burst: r.cfg.RateBurst, MaxWait: r.cfg.RateMaxWait()},
	}, policy, r.logger.Logger)

	r.bus = events.NewBus(r.logger.Logger, eventBusBuffer)

	notifier := notify.NewWebhookNotifier(r.cfg.WebhookURL, r.caller, r.logger.Logger)
	notifier.SubscribeAll(r.bus)

	r.engine = engine.New(settings, r.caller, r.provider, r.store, r.bus, r.logger.Logger)

	restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	if err := r.engine.Restore(restoreCtx); err != nil {
		return err
	}

	r.dedup = dedup.New(r.cfg.DedupTTL(), r.cfg.CoalesceDelay(), detectionBuffer, r.logger.Logger)

	r.monitor = monitor.NewLoop(r.engine, r.caller, r.provider, r.cfg.MonitorInterval(), r.logger.Logger)

	r.cmdBus = command.NewBus(r.logger.Logger)
	r.adapter = command.NewAdapter(r.engine, r.bus, r.cmdBus, r.logger.Logger)

	r.group = sources.NewPushSource(r.dedup)
	if r.cfg.FeedURL != "" {
		r.feed = sources.NewWebFeed(r.cfg.FeedURL, r.dedup, r.logger.Logger)
	}

	return nil
}

// Commands exposes the operator command bus.
func (r *Runner) Commands() *command.Bus { return r.cmdBus }

// Status exposes the read side of the command surface.
func (r *Runner) Status() command.Status { return r.adapter.Status() }

// GroupSource exposes the push boundary for group-watcher integrations.
func (r *Runner) GroupSource() *sources.PushSource { return r.group }

// Run starts every component and blocks until a signal arrives or a
// component fails, then shuts down in reverse startup order.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.forwardDetections(gctx)
		return nil
	})

	g.Go(func() error {
		r.monitor.Start(gctx)
		return nil
	})

	g.Go(func() error {
		return r.group.Run(gctx)
	})

	if r.feed != nil {
		g.Go(func() error {
			return r.feed.Run(gctx)
		})
	}

	r.logger.Info("Bot is running",
		zap.Bool("auto_trade", r.cfg.AutoTrade),
		zap.Bool("feed", r.feed != nil),
		zap.Bool("webhook", r.cfg.WebhookURL != ""))

	<-gctx.Done()
	err := g.Wait()

	r.shutdown()
	return err
}

// forwardDetections drains the deduplicator into the engine.
func (r *Runner) forwardDetections(ctx context.Context) {
	for {
		select {
		case det, ok := <-r.dedup.Out():
			if !ok {
				return
			}
			if err := r.engine.OnDetected(ctx, det); err != nil {
				r.logger.WithToken(det.TokenAddress).Warn("Detection handling failed",
					zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// shutdown tears down in reverse of startup: stop producing work first,
// then drain the engine, then close the outlets.
func (r *Runner) shutdown() {
	sh := NewShutdownHandler(r.logger.Logger, shutdownTimeout)

	sh.AddFunc("storage", r.store.Close)
	sh.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainWaitTimeout)
		defer cancel()
		return r.bus.Shutdown(ctx)
	})
	sh.AddFunc("engine", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainWaitTimeout)
		defer cancel()
		return r.engine.Close(ctx)
	})
	sh.AddFunc("deduplicator", func() error {
		r.dedup.Close()
		return nil
	})
	sh.AddFunc("monitor", func() error {
		r.monitor.Stop()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sh.Shutdown(ctx)
}
