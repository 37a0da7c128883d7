// internal/command/adapter.go
package command

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-trench-bot/internal/engine"
	"solana-trench-bot/internal/events"
)

// Adapter applies operator commands to the trade engine and its settings,
// and answers the status queries. One adapter handles every command type;
// registration wires it into the bus per type.
type Adapter struct {
	engine *engine.Engine
	bus    *events.Bus
	logger *zap.Logger
}

// NewAdapter creates the adapter and registers it for all commands.
func NewAdapter(eng *engine.Engine, bus *events.Bus, cmdBus *Bus, logger *zap.Logger) *Adapter {
	a := &Adapter{
		engine: eng,
		bus:    bus,
		logger: logger.Named("commands"),
	}

	cmdBus.Register(SetAutoTradeCommand{}, a)
	cmdBus.Register(SetBuyAmountCommand{}, a)
	cmdBus.Register(SetTargetCommand{}, a)
	cmdBus.Register(SetSellPercentageCommand{}, a)
	cmdBus.Register(ForceOpenCommand{}, a)
	cmdBus.Register(ForceCloseCommand{}, a)
	cmdBus.Register(ReconcileCommand{}, a)

	return a
}

// CanHandle reports whether the adapter knows the command type.
func (a *Adapter) CanHandle(cmd Command) bool {
	switch cmd.(type) {
	case SetAutoTradeCommand, SetBuyAmountCommand, SetTargetCommand,
		SetSellPercentageCommand, ForceOpenCommand, ForceCloseCommand,
		ReconcileCommand:
		return true
	}
	return false
}

// Handle applies one command. Settings changes publish ConfigUpdated;
// trade commands delegate to the engine.
func (a *Adapter) Handle(ctx context.Context, cmd Command) error {
	settings := a.engine.Settings()

	switch c := cmd.(type) {
	case SetAutoTradeCommand:
		settings.SetAutoTrade(c.Enabled)
		a.publishConfigUpdated("auto_trade_enabled", fmt.Sprintf("%t", c.Enabled))
		return nil

	case SetBuyAmountCommand:
		if err := settings.SetBuyAmount(c.AmountSol); err != nil {
			return err
		}
		a.publishConfigUpdated("buy_amount_sol", fmt.Sprintf("%g", c.AmountSol))
		return nil

	case SetTargetCommand:
		if err := settings.SetTargetMultiplier(c.Multiplier); err != nil {
			return err
		}
		a.publishConfigUpdated("target_multiplier", fmt.Sprintf("%g", c.Multiplier))
		return nil

	case SetSellPercentageCommand:
		if err := settings.SetSellPercentage(c.Percentage); err != nil {
			return err
		}
		a.publishConfigUpdated("sell_percentage", fmt.Sprintf("%g", c.Percentage))
		return nil

	case ForceOpenCommand:
		return a.engine.ForceOpen(ctx, c.TokenAddress, c.Symbol)

	case ForceCloseCommand:
		return a.engine.ForceClose(ctx, c.TokenAddress)

	case ReconcileCommand:
		return a.engine.Reconcile(ctx, c.TokenAddress)
	}

	return fmt.Errorf("unsupported command: %s", cmd.Name())
}

func (a *Adapter) publishConfigUpdated(field, value string) {
	a.bus.Publish(events.ConfigUpdatedEvent{
		BaseEvent: events.BaseEvent{EventType: events.ConfigUpdated, EventTime: time.Now()},
		Field:     field,
		NewValue:  value,
	})
}

// Status is the read side of the command surface.
type Status struct {
	Settings  engine.Settings
	Positions []engine.Position
	Open      int
	Uncertain int
	Closed    int
	Failed    int
}

// Status snapshots current settings and all known positions.
func (a *Adapter) Status() Status {
	st := Status{
		Settings:  a.engine.Settings().Snapshot(),
		Positions: a.engine.Positions(),
	}
	for _, p := range st.Positions {
		switch {
		case p.Uncertain:
			st.Uncertain++
		case p.State == engine.StateOpen || p.State == engine.StateOpening || p.State == engine.StateClosing:
			st.Open++
		case p.State == engine.StateClosed:
			st.Closed++
		case p.State == engine.StateFailed:
			st.Failed++
		}
	}
	return st
}
