// internal/engine/settings.go
package engine

import (
	"fmt"
	"sync"
)

// Settings holds the trading parameters read on every detection. Changes
// apply to future opens only; positions already open keep the values they
// were created with.
type Settings struct {
	AutoTradeEnabled bool
	BuyAmountSol     float64
	TargetMultiplier float64
	SellPercentage   float64
}

// ValidationError reports a rejected configuration value. The state is
// never mutated when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateBuyAmount(v float64) error {
	if v <= 0 {
		return &ValidationError{Field: "buy_amount_sol", Reason: fmt.Sprintf("must be positive, got %v", v)}
	}
	return nil
}

func validateTargetMultiplier(v float64) error {
	if v < 1 {
		return &ValidationError{Field: "target_multiplier", Reason: fmt.Sprintf("must be >= 1, got %v", v)}
	}
	return nil
}

func validateSellPercentage(v float64) error {
	if v <= 0 || v > 100 {
		return &ValidationError{Field: "sell_percentage", Reason: fmt.Sprintf("must be in (0, 100], got %v", v)}
	}
	return nil
}

// Validate checks every field.
func (s Settings) Validate() error {
	if err := validateBuyAmount(s.BuyAmountSol); err != nil {
		return err
	}
	if err := validateTargetMultiplier(s.TargetMultiplier); err != nil {
		return err
	}
	return validateSellPercentage(s.SellPercentage)
}

// SettingsStore is the single guarded Settings instance. Writes exclude
// all reads and other writes; reads may run concurrently.
type SettingsStore struct {
	mu  sync.RWMutex
	cur Settings
}

// NewSettingsStore validates the initial settings; malformed boot
// configuration is surfaced to the caller, which treats it as fatal.
func NewSettingsStore(initial Settings) (*SettingsStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &SettingsStore{cur: initial}, nil
}

// Snapshot returns a copy of the current settings.
func (st *SettingsStore) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

func (st *SettingsStore) SetAutoTrade(enabled bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.AutoTradeEnabled = enabled
}

func (st *SettingsStore) SetBuyAmount(amountSol float64) error {
	if err := validateBuyAmount(amountSol); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.BuyAmountSol = amountSol
	return nil
}

func (st *SettingsStore) SetTargetMultiplier(multiplier float64) error {
	if err := validateTargetMultiplier(multiplier); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.TargetMultiplier = multiplier
	return nil
}

func (st *SettingsStore) SetSellPercentage(percentage float64) error {
	if err := validateSellPercentage(percentage); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.SellPercentage = percentage
	return nil
}
