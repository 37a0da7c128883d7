// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"solana-trench-bot/internal/calls"
	"solana-trench-bot/internal/events"
	"solana-trench-bot/internal/storage"
	"solana-trench-bot/internal/trading"
	"solana-trench-bot/internal/types"
)

var (
	ErrShuttingDown      = errors.New("engine is shutting down")
	ErrPositionActive    = errors.New("position already active for token")
	ErrPositionNotFound  = errors.New("no position for token")
	ErrPositionUncertain = errors.New("position requires reconciliation")
	ErrInvalidState      = errors.New("transition not permitted from current state")
)

const (
	persistTimeout = 5 * time.Second

	// maxConsecutiveSellFailures stops re-arming the automatic exit after
	// this many exhausted sell attempts; the position stays Open and
	// monitorable but only ForceClose can sell it.
	maxConsecutiveSellFailures = 5
)

// Engine owns the per-token trade lifecycle: it decides to open on a
// deduplicated detection, tracks monitoring, and decides to close at the
// target. All Position mutation happens here, serialized per token address
// by a per-entry mutex so positions for different tokens progress in
// parallel while same-token operations never interleave mid-transition.
type Engine struct {
	settings *SettingsStore
	caller   *calls.Caller
	provider trading.Provider
	store    storage.Store
	bus      *events.Bus
	logger   *zap.Logger

	mu        sync.RWMutex
	positions map[string]*entry

	inflight sync.WaitGroup
	closed   atomic.Bool
}

// entry is the per-token ownership cell. Its mutex is held for the whole
// duration of a transition, including the external call, so readers never
// touch it: they consume the snapshot published at each transition point.
type entry struct {
	mu      sync.Mutex
	pos     *Position
	lastGen uint64

	snapMu sync.RWMutex
	snap   *Position
}

func (e *entry) nextGen() uint64 {
	e.lastGen++
	return e.lastGen
}

// publish refreshes the read snapshot. Called with the entry mutex held.
func (e *entry) publish() {
	var snap *Position
	if e.pos != nil {
		cp := *e.pos
		snap = &cp
	}
	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}

// snapshot returns the last published position copy without blocking on
// an in-flight transition.
func (e *entry) snapshot() (Position, bool) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	if e.snap == nil {
		return Position{}, false
	}
	return *e.snap, true
}

// New creates an engine. The provider is injectable so a simulator and a
// real execution backend share the same contract.
func New(settings *SettingsStore, caller *calls.Caller, provider trading.Provider,
	store storage.Store, bus *events.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		settings:  settings,
		caller:    caller,
		provider:  provider,
		store:     store,
		bus:       bus,
		logger:    logger.Named("engine"),
		positions: make(map[string]*entry),
	}
}

// Settings returns the guarded trading settings.
func (e *Engine) Settings() *SettingsStore {
	return e.settings
}

func (e *Engine) entryFor(tokenAddress string) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.positions[tokenAddress]
	if !ok {
		ent = &entry{}
		e.positions[tokenAddress] = ent
	}
	return ent
}

func (e *Engine) lookup(tokenAddress string) *entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions[tokenAddress]
}

// begin guards a transition against shutdown and registers it for the
// graceful drain.
func (e *Engine) begin() error {
	if e.closed.Load() {
		return ErrShuttingDown
	}
	e.inflight.Add(1)
	if e.closed.Load() {
		e.inflight.Done()
		return ErrShuttingDown
	}
	return nil
}

// OnDetected handles a deduplicated detection. When auto-trade is enabled
// it opens a position for the token; a detection for an address with an
// existing non-terminal position is ignored.
func (e *Engine) OnDetected(ctx context.Context, det types.TokenDetection) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.inflight.Done()

	cfg := e.settings.Snapshot()

	_ = e.bus.Publish(events.TokenDetectedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.TokenDetected, EventTime: time.Now()},
		TokenAddress: det.TokenAddress,
		Symbol:       det.Symbol,
		Source:       string(det.Source),
		AutoTrade:    cfg.AutoTradeEnabled,
	})

	if !cfg.AutoTradeEnabled {
		e.logger.Info("Auto-trade disabled, detection not traded",
			zap.String("token", det.TokenAddress),
			zap.String("source", string(det.Source)))
		return nil
	}

	return e.open(ctx, det.TokenAddress, det.Symbol, cfg, false)
}

// ForceOpen opens a position for the token regardless of the auto-trade
// flag, subject to the same transition rules.
func (e *Engine) ForceOpen(ctx context.Context, tokenAddress, symbol string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.inflight.Done()

	return e.open(ctx, tokenAddress, symbol, e.settings.Snapshot(), true)
}

func (e *Engine) open(ctx context.Context, tokenAddress, symbol string, cfg Settings, manual bool) error {
	ent := e.entryFor(tokenAddress)
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.pos != nil && !ent.pos.State.Terminal() {
		if manual {
			return fmt.Errorf("%w: %s is %s", ErrPositionActive, tokenAddress, ent.pos.State)
		}
		e.logger.Debug("Position already active, ignoring detection",
			zap.String("token", tokenAddress),
			zap.String("state", string(ent.pos.State)))
		return nil
	}

	// A detection after Closed/Failed opens a fresh position, never reuses
	// the old entity.
	pos := &Position{
		TokenAddress:     tokenAddress,
		Symbol:           symbol,
		State:            StateOpening,
		BuyAmountSol:     cfg.BuyAmountSol,
		TargetMultiplier: cfg.TargetMultiplier,
		SellPercentage:   cfg.SellPercentage,
		OpenedAt:         time.Now(),
		Generation:       ent.nextGen(),
	}
	ent.pos = pos
	e.commit(ent)

	e.logger.Info("Opening position",
		zap.String("token", tokenAddress),
		zap.Float64("buy_amount_sol", cfg.BuyAmountSol),
		zap.Bool("manual", manual))

	res, err := calls.Call(ctx, e.caller, calls.CategorySwap,
		func(ctx context.Context) (*trading.SwapResult, error) {
			return e.provider.Buy(ctx, tokenAddress, cfg.BuyAmountSol)
		})
	if err != nil {
		return e.failOpenLocked(ent, pos, err)
	}

	pos.State = StateOpen
	pos.EntryPrice = res.EntryPrice
	pos.Quantity = res.Quantity
	pos.RemainingQuantity = res.Quantity
	pos.LastPrice = res.EntryPrice
	pos.Generation = ent.nextGen()
	pos.LastError = ""
	e.commit(ent)

	e.logger.Info("Position opened",
		zap.String("token", tokenAddress),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("quantity", pos.Quantity))

	_ = e.bus.Publish(events.PositionOpenedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.PositionOpened, EventTime: time.Now()},
		TokenAddress: tokenAddress,
		Symbol:       symbol,
		EntryPrice:   pos.EntryPrice,
		Quantity:     pos.Quantity,
		BuyAmountSol: cfg.BuyAmountSol,
	})
	return nil
}

func (e *Engine) failOpenLocked(ent *entry, pos *Position, err error) error {
	pos.LastError = err.Error()
	if trading.IsAmbiguous(err) {
		pos.Uncertain = true
		e.commit(ent)
		e.logger.Error("Buy outcome unknown, position blocked until reconciled",
			zap.String("token", pos.TokenAddress), zap.Error(err))
		_ = e.bus.Publish(events.PositionUncertainEvent{
			BaseEvent:    events.BaseEvent{EventType: events.PositionUncertain, EventTime: time.Now()},
			TokenAddress: pos.TokenAddress,
			Operation:    "buy",
			Err:          err,
		})
		return err
	}

	pos.State = StateFailed
	now := time.Now()
	pos.ClosedAt = &now
	pos.Generation = ent.nextGen()
	e.commit(ent)

	e.logger.Error("Failed to open position",
		zap.String("token", pos.TokenAddress), zap.Error(err))
	_ = e.bus.Publish(events.PositionFailedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.PositionFailed, EventTime: time.Now()},
		TokenAddress: pos.TokenAddress,
		Err:          err,
	})
	return err
}

// OnPriceSample applies a price observation to an open position. Samples
// carrying a stale generation are discarded; crossing the target triggers
// exactly one Closing transition.
func (e *Engine) OnPriceSample(ctx context.Context, tokenAddress string, price float64, generation uint64) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.inflight.Done()

	ent := e.lookup(tokenAddress)
	if ent == nil {
		return nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	pos := ent.pos
	if pos == nil || pos.State != StateOpen || pos.Uncertain {
		return nil
	}
	if pos.Generation != generation {
		e.logger.Debug("Stale price sample discarded",
			zap.String("token", tokenAddress),
			zap.Uint64("sample_generation", generation),
			zap.Uint64("position_generation", pos.Generation))
		return nil
	}

	pos.LastPrice = price
	pos.LastSampleAt = time.Now()
	ent.publish()

	if price < pos.TargetPrice() {
		return nil
	}

	if pos.SellFailures >= maxConsecutiveSellFailures {
		e.logger.Debug("Automatic exit suspended, waiting for manual close",
			zap.String("token", tokenAddress),
			zap.Int("consecutive_failures", pos.SellFailures))
		return nil
	}

	pos.State = StateClosing
	pos.Generation = ent.nextGen()
	e.commit(ent)

	e.logger.Info("Target reached, closing position",
		zap.String("token", tokenAddress),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("current_price", price),
		zap.Float64("multiplier", pos.TargetMultiplier))

	_ = e.bus.Publish(events.TargetReachedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.TargetReached, EventTime: time.Now()},
		TokenAddress: tokenAddress,
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: price,
		Multiplier:   pos.TargetMultiplier,
	})

	return e.sellLocked(ctx, ent, pos)
}

// ForceClose manually sells the configured percentage of an open position.
func (e *Engine) ForceClose(ctx context.Context, tokenAddress string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.inflight.Done()

	ent := e.lookup(tokenAddress)
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, tokenAddress)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	pos := ent.pos
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, tokenAddress)
	}
	if pos.Uncertain {
		return fmt.Errorf("%w: %s", ErrPositionUncertain, tokenAddress)
	}
	if pos.State != StateOpen {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, tokenAddress, pos.State)
	}

	pos.State = StateClosing
	pos.Generation = ent.nextGen()
	e.commit(ent)

	e.logger.Info("Manual close requested", zap.String("token", tokenAddress))
	return e.sellLocked(ctx, ent, pos)
}

// sellLocked sells SellPercentage of the position's quantity. Retry
// exhaustion returns the position to Open so it stays monitorable; the
// next price sample re-arms the exit until consecutive failures reach
// maxConsecutiveSellFailures, after which only a manual close sells.
func (e *Engine) sellLocked(ctx context.Context, ent *entry, pos *Position) error {
	sellQty := pos.Quantity * pos.SellPercentage / 100

	res, err := calls.Call(ctx, e.caller, calls.CategorySwap,
		func(ctx context.Context) (*trading.SellResult, error) {
			return e.provider.Sell(ctx, pos.TokenAddress, sellQty)
		})
	if err != nil {
		pos.LastError = err.Error()
		if trading.IsAmbiguous(err) {
			pos.Uncertain = true
			e.commit(ent)
			e.logger.Error("Sell outcome unknown, position blocked until reconciled",
				zap.String("token", pos.TokenAddress), zap.Error(err))
			_ = e.bus.Publish(events.PositionUncertainEvent{
				BaseEvent:    events.BaseEvent{EventType: events.PositionUncertain, EventTime: time.Now()},
				TokenAddress: pos.TokenAddress,
				Operation:    "sell",
				Err:          err,
			})
			return err
		}

		pos.State = StateOpen
		pos.SellFailures++
		pos.Generation = ent.nextGen()
		e.commit(ent)

		e.logger.Warn("Sell failed after retries, position re-armed",
			zap.String("token", pos.TokenAddress),
			zap.Int("consecutive_failures", pos.SellFailures),
			zap.Error(err))
		if pos.SellFailures >= maxConsecutiveSellFailures {
			e.logger.Error("Automatic exit suspended after repeated sell failures, manual close required",
				zap.String("token", pos.TokenAddress),
				zap.Int("consecutive_failures", pos.SellFailures))
		}
		_ = e.bus.Publish(events.SellRetryExceededEvent{
			BaseEvent:           events.BaseEvent{EventType: events.SellRetryExceeded, EventTime: time.Now()},
			TokenAddress:        pos.TokenAddress,
			ConsecutiveFailures: pos.SellFailures,
			Err:                 err,
		})
		return err
	}

	now := time.Now()
	pos.State = StateClosed
	pos.ClosedAt = &now
	pos.ProceedsSol += res.ProceedsSol
	pos.RemainingQuantity = pos.Quantity - sellQty
	pos.SellFailures = 0
	pos.LastError = ""
	pos.Generation = ent.nextGen()
	e.commit(ent)

	e.logger.Info("Position closed",
		zap.String("token", pos.TokenAddress),
		zap.Float64("quantity_sold", sellQty),
		zap.Float64("proceeds_sol", res.ProceedsSol),
		zap.Float64("remaining_quantity", pos.RemainingQuantity))

	_ = e.bus.Publish(events.PositionClosedEvent{
		BaseEvent:         events.BaseEvent{EventType: events.PositionClosed, EventTime: time.Now()},
		TokenAddress:      pos.TokenAddress,
		QuantitySold:      sellQty,
		RemainingQuantity: pos.RemainingQuantity,
		ProceedsSol:       res.ProceedsSol,
		SellPercentage:    pos.SellPercentage,
	})
	return nil
}

// Reconcile resolves an Uncertain position by checking the actual token
// balance, the only safe way to decide whether a submitted buy/sell
// executed.
func (e *Engine) Reconcile(ctx context.Context, tokenAddress string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.inflight.Done()

	ent := e.lookup(tokenAddress)
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, tokenAddress)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	pos := ent.pos
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, tokenAddress)
	}
	if !pos.Uncertain {
		return fmt.Errorf("position %s is not uncertain", tokenAddress)
	}

	balance, err := calls.Call(ctx, e.caller, calls.CategoryPrice,
		func(ctx context.Context) (float64, error) {
			return e.provider.TokenBalance(ctx, tokenAddress)
		})
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", tokenAddress, err)
	}

	switch pos.State {
	case StateOpening:
		if balance > 0 {
			// The buy executed after all.
			pos.State = StateOpen
			pos.Quantity = balance
			pos.RemainingQuantity = balance
			if pos.EntryPrice == 0 {
				pos.EntryPrice = pos.BuyAmountSol / balance
			}
		} else {
			pos.State = StateFailed
			now := time.Now()
			pos.ClosedAt = &now
		}
	case StateClosing:
		sellQty := pos.Quantity * pos.SellPercentage / 100
		if balance <= pos.Quantity-sellQty+1e-9 {
			// The sell executed.
			now := time.Now()
			pos.State = StateClosed
			pos.ClosedAt = &now
			pos.RemainingQuantity = balance
		} else {
			pos.State = StateOpen
		}
	default:
		return fmt.Errorf("%w: uncertain position in state %s", ErrInvalidState, pos.State)
	}

	pos.Uncertain = false
	pos.LastError = ""
	pos.Generation = ent.nextGen()
	e.commit(ent)

	e.logger.Info("Position reconciled",
		zap.String("token", tokenAddress),
		zap.Float64("balance", balance),
		zap.String("state", string(pos.State)))
	return nil
}

// Restore loads persisted open positions so the monitor loop can resume
// them without re-opening. Positions caught mid-transition by the previous
// shutdown are marked Uncertain and require reconciliation.
func (e *Engine) Restore(ctx context.Context) error {
	recs, err := e.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range recs {
		pos := positionFromRecord(rec)
		if (pos.State == StateOpening || pos.State == StateClosing) && !pos.Uncertain {
			pos.Uncertain = true
			pos.LastError = "interrupted by restart"
		}
		ent := &entry{pos: pos, lastGen: pos.Generation}
		ent.publish()
		e.positions[pos.TokenAddress] = ent
		e.logger.Info("Restored position",
			zap.String("token", pos.TokenAddress),
			zap.String("state", string(pos.State)),
			zap.Bool("uncertain", pos.Uncertain))
	}
	return nil
}

// OpenPositions returns references to positions eligible for price
// sampling. It reads published snapshots only, so an in-flight swap on
// one token never stalls enumeration for the others.
func (e *Engine) OpenPositions() []OpenPositionRef {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.positions))
	for _, ent := range e.positions {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	var refs []OpenPositionRef
	for _, ent := range entries {
		pos, ok := ent.snapshot()
		if ok && pos.State == StateOpen && !pos.Uncertain {
			refs = append(refs, OpenPositionRef{
				TokenAddress: pos.TokenAddress,
				Generation:   pos.Generation,
			})
		}
	}
	return refs
}

// Positions returns a snapshot copy of every tracked position.
func (e *Engine) Positions() []Position {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.positions))
	for _, ent := range e.positions {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]Position, 0, len(entries))
	for _, ent := range entries {
		if pos, ok := ent.snapshot(); ok {
			out = append(out, pos)
		}
	}
	return out
}

// Position returns a snapshot copy of the position for a token, if any.
func (e *Engine) Position(tokenAddress string) (Position, bool) {
	ent := e.lookup(tokenAddress)
	if ent == nil {
		return Position{}, false
	}
	return ent.snapshot()
}

// Close stops accepting new transitions and waits for in-flight
// Opening/Closing transitions to complete or cleanly fail.
func (e *Engine) Close(ctx context.Context) error {
	e.closed.Store(true)

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Engine drained")
		return nil
	case <-ctx.Done():
		e.logger.Warn("Engine drain timeout")
		return ctx.Err()
	}
}

// commit publishes the entry's read snapshot and persists the position.
// Called with the entry mutex held at every transition point.
func (e *Engine) commit(ent *entry) {
	ent.publish()
	e.persist(ent.pos)
}

// persist snapshots the position to storage; storage failures are logged,
// never allowed to corrupt the in-memory state machine.
func (e *Engine) persist(pos *Position) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.SavePosition(ctx, pos.toRecord()); err != nil {
		e.logger.Error("Failed to persist position",
			zap.String("token", pos.TokenAddress),
			zap.Error(err))
	}
}
