// internal/command/commands_test.go
package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// mockHandler records dispatched commands.
type mockHandler struct {
	handled []Command
	err     error
}

func (h *mockHandler) Handle(ctx context.Context, cmd Command) error {
	h.handled = append(h.handled, cmd)
	return h.err
}

func (h *mockHandler) CanHandle(cmd Command) bool { return true }

func TestSetBuyAmountCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SetBuyAmountCommand
		wantErr bool
	}{
		{
			name:    "valid amount",
			cmd:     SetBuyAmountCommand{AmountSol: 0.1, Timestamp: time.Now()},
			wantErr: false,
		},
		{
			name:    "zero amount",
			cmd:     SetBuyAmountCommand{AmountSol: 0, Timestamp: time.Now()},
			wantErr: true,
		},
		{
			name:    "negative amount",
			cmd:     SetBuyAmountCommand{AmountSol: -1, Timestamp: time.Now()},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("SetBuyAmountCommand.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetTargetCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SetTargetCommand
		wantErr bool
	}{
		{"valid multiplier", SetTargetCommand{Multiplier: 2}, false},
		{"exactly one", SetTargetCommand{Multiplier: 1}, false},
		{"below one", SetTargetCommand{Multiplier: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("SetTargetCommand.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetSellPercentageCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SetSellPercentageCommand
		wantErr bool
	}{
		{"valid percentage", SetSellPercentageCommand{Percentage: 80}, false},
		{"full sell", SetSellPercentageCommand{Percentage: 100}, false},
		{"zero", SetSellPercentageCommand{Percentage: 0}, true},
		{"over 100", SetSellPercentageCommand{Percentage: 150}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("SetSellPercentageCommand.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestForceOpenCommand_Validation(t *testing.T) {
	if err := (ForceOpenCommand{TokenAddress: "mint-1"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (ForceOpenCommand{}).Validate(); err == nil {
		t.Error("expected error for empty token address")
	}
}

func TestBusDispatchesToRegisteredHandler(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	handler := &mockHandler{}
	bus.Register(SetAutoTradeCommand{}, handler)

	cmd := SetAutoTradeCommand{Enabled: true, Timestamp: time.Now()}
	if err := bus.Send(context.Background(), cmd); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(handler.handled) != 1 {
		t.Fatalf("expected 1 handled command, got %d", len(handler.handled))
	}
	if handler.handled[0].Name() != "set_auto_trade" {
		t.Errorf("unexpected command dispatched: %s", handler.handled[0].Name())
	}
}

func TestBusRejectsInvalidCommandBeforeDispatch(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	handler := &mockHandler{}
	bus.Register(SetBuyAmountCommand{}, handler)

	err := bus.Send(context.Background(), SetBuyAmountCommand{AmountSol: -1})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(handler.handled) != 0 {
		t.Errorf("invalid command reached handler")
	}
}

func TestBusErrorsOnUnregisteredCommand(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	err := bus.Send(context.Background(), SetAutoTradeCommand{})
	if err == nil {
		t.Fatal("expected error for unregistered command")
	}
}

func TestBusWrapsHandlerError(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	wantErr := errors.New("engine rejected")
	bus.Register(ForceCloseCommand{}, &mockHandler{err: wantErr})

	err := bus.Send(context.Background(), ForceCloseCommand{TokenAddress: "mint-1"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Send() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestRegisteredCommandsListsNames(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	bus.Register(SetAutoTradeCommand{}, &mockHandler{})
	bus.Register(ForceOpenCommand{}, &mockHandler{})

	names := bus.RegisteredCommands()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered commands, got %d", len(names))
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["set_auto_trade"] || !seen["force_open"] {
		t.Errorf("unexpected registered names: %v", names)
	}
}
