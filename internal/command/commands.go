// internal/command/commands.go
package command

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Command is one operator instruction. Validation runs before dispatch;
// an invalid command never reaches a handler.
type Command interface {
	Name() string
	Validate() error
}

// SetAutoTradeCommand enables or disables automatic opening on detection.
// Monitoring of already-open positions continues either way.
type SetAutoTradeCommand struct {
	Enabled   bool      `json:"enabled"`
	Timestamp time.Time `json:"timestamp"`
}

func (c SetAutoTradeCommand) Name() string    { return "set_auto_trade" }
func (c SetAutoTradeCommand) Validate() error { return nil }

// SetBuyAmountCommand changes the SOL amount spent per buy. Applies to
// future opens only.
type SetBuyAmountCommand struct {
	AmountSol float64   `json:"amount_sol"`
	Timestamp time.Time `json:"timestamp"`
}

func (c SetBuyAmountCommand) Name() string { return "set_buy_amount" }

func (c SetBuyAmountCommand) Validate() error {
	if c.AmountSol <= 0 {
		return fmt.Errorf("amount_sol must be positive, got: %v", c.AmountSol)
	}
	return nil
}

// SetTargetCommand changes the exit multiplier for future opens.
type SetTargetCommand struct {
	Multiplier float64   `json:"multiplier"`
	Timestamp  time.Time `json:"timestamp"`
}

func (c SetTargetCommand) Name() string { return "set_target" }

func (c SetTargetCommand) Validate() error {
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got: %v", c.Multiplier)
	}
	return nil
}

// SetSellPercentageCommand changes the share of the position sold when the
// target is reached.
type SetSellPercentageCommand struct {
	Percentage float64   `json:"percentage"`
	Timestamp  time.Time `json:"timestamp"`
}

func (c SetSellPercentageCommand) Name() string { return "set_sell_percentage" }

func (c SetSellPercentageCommand) Validate() error {
	if c.Percentage <= 0 || c.Percentage > 100 {
		return fmt.Errorf("percentage must be between 0 and 100, got: %v", c.Percentage)
	}
	return nil
}

// ForceOpenCommand opens a position for a token regardless of the
// auto-trade switch.
type ForceOpenCommand struct {
	TokenAddress string    `json:"token_address"`
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c ForceOpenCommand) Name() string { return "force_open" }

func (c ForceOpenCommand) Validate() error {
	if c.TokenAddress == "" {
		return fmt.Errorf("token_address cannot be empty")
	}
	return nil
}

// ForceCloseCommand sells an open position at the current price without
// waiting for the target.
type ForceCloseCommand struct {
	TokenAddress string    `json:"token_address"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c ForceCloseCommand) Name() string { return "force_close" }

func (c ForceCloseCommand) Validate() error {
	if c.TokenAddress == "" {
		return fmt.Errorf("token_address cannot be empty")
	}
	return nil
}

// ReconcileCommand resolves an uncertain position against the actual token
// balance.
type ReconcileCommand struct {
	TokenAddress string    `json:"token_address"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c ReconcileCommand) Name() string { return "reconcile" }

func (c ReconcileCommand) Validate() error {
	if c.TokenAddress == "" {
		return fmt.Errorf("token_address cannot be empty")
	}
	return nil
}

// Handler executes a command.
type Handler interface {
	Handle(ctx context.Context, cmd Command) error
	CanHandle(cmd Command) bool
}

// Bus routes validated commands to the handler registered for their type.
type Bus struct {
	handlers map[reflect.Type]Handler
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewBus creates an empty command bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[reflect.Type]Handler),
		logger:   logger.Named("command_bus"),
	}
}

// Register binds a handler to the concrete type of cmdType.
func (bus *Bus) Register(cmdType Command, handler Handler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[reflect.TypeOf(cmdType)] = handler

	bus.logger.Info("Command handler registered",
		zap.String("command", cmdType.Name()),
		zap.String("handler", reflect.TypeOf(handler).String()))
}

// Send validates cmd and dispatches it. The command's own validation
// failure is returned unchanged so callers can report the exact reason.
func (bus *Bus) Send(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		bus.logger.Warn("Command validation failed",
			zap.String("command", cmd.Name()),
			zap.Error(err))
		return fmt.Errorf("command validation failed: %w", err)
	}

	bus.mu.RLock()
	handler, exists := bus.handlers[reflect.TypeOf(cmd)]
	bus.mu.RUnlock()

	if !exists {
		bus.logger.Error("No handler for command",
			zap.String("command", cmd.Name()))
		return fmt.Errorf("no handler registered for command: %s", cmd.Name())
	}

	bus.logger.Info("Executing command", zap.String("command", cmd.Name()))

	if err := handler.Handle(ctx, cmd); err != nil {
		bus.logger.Error("Command execution failed",
			zap.String("command", cmd.Name()),
			zap.Error(err))
		return fmt.Errorf("command execution failed: %w", err)
	}

	bus.logger.Info("Command executed", zap.String("command", cmd.Name()))
	return nil
}

// RegisteredCommands lists the names of all commands with a handler.
func (bus *Bus) RegisteredCommands() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	names := make([]string, 0, len(bus.handlers))
	for cmdType := range bus.handlers {
		var cmd Command
		if cmdType.Kind() == reflect.Ptr {
			cmd = reflect.New(cmdType.Elem()).Interface().(Command)
		} else {
			cmd = reflect.New(cmdType).Elem().Interface().(Command)
		}
		names = append(names, cmd.Name())
	}
	return names
}
