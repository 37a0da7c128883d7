// internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-trench-bot/internal/calls"
	"solana-trench-bot/internal/engine"
	"solana-trench-bot/internal/trading"
)

// PositionSource is the engine surface the loop needs.
type PositionSource interface {
	OpenPositions() []engine.OpenPositionRef
	OnPriceSample(ctx context.Context, tokenAddress string, price float64, generation uint64) error
}

// Loop periodically fetches a price for every open position and feeds the
// samples to the engine. Each position is sampled in its own goroutine so
// one slow or failing fetch never delays the others; a per-position busy
// flag makes overlapping cycles skip the position instead of queueing.
type Loop struct {
	source   PositionSource
	caller   *calls.Caller
	provider trading.Provider
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	busy   map[string]bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates a monitor loop with the given polling interval.
func NewLoop(source PositionSource, caller *calls.Caller, provider trading.Provider,
	interval time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		source:   source,
		caller:   caller,
		provider: provider,
		interval: interval,
		logger:   logger.Named("monitor"),
		busy:     make(map[string]bool),
	}
}

// Start begins polling. It blocks until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)

	l.logger.Info("Starting position monitor",
		zap.Duration("interval", l.interval))

	// Run the first cycle immediately.
	l.cycle(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cycle(ctx)
		case <-ctx.Done():
			l.logger.Debug("Position monitor stopped")
			return
		}
	}
}

// Stop cancels polling and waits for in-flight samples to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Loop) cycle(ctx context.Context) {
	for _, ref := range l.source.OpenPositions() {
		if !l.tryAcquire(ref.TokenAddress) {
			// Previous cycle still sampling this position; skip, not queue.
			l.logger.Debug("Sample still in flight, skipping tick",
				zap.String("token", ref.TokenAddress))
			continue
		}

		l.wg.Add(1)
		go func(ref engine.OpenPositionRef) {
			defer l.wg.Done()
			defer l.release(ref.TokenAddress)
			l.sample(ctx, ref)
		}(ref)
	}
}

// sample fetches one price and forwards it. Fetch failures are absorbed
// here and logged; they are never fatal to the loop.
func (l *Loop) sample(ctx context.Context, ref engine.OpenPositionRef) {
	price, err := calls.Call(ctx, l.caller, calls.CategoryPrice,
		func(ctx context.Context) (float64, error) {
			return l.provider.GetPrice(ctx, ref.TokenAddress)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("Price fetch failed",
			zap.String("token", ref.TokenAddress),
			zap.Error(err))
		return
	}

	if err := l.source.OnPriceSample(ctx, ref.TokenAddress, price, ref.Generation); err != nil {
		l.logger.Warn("Price sample rejected",
			zap.String("token", ref.TokenAddress),
			zap.Error(err))
	}
}

func (l *Loop) tryAcquire(tokenAddress string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[tokenAddress] {
		return false
	}
	l.busy[tokenAddress] = true
	return true
}

func (l *Loop) release(tokenAddress string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.busy, tokenAddress)
}
