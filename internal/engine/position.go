// internal/engine/position.go
package engine

import (
	"time"

	"solana-trench-bot/internal/storage"
)

// State is a position's place in the trade lifecycle.
type State string

const (
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
	StateClosed  State = "closed"
	StateFailed  State = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Position is the engine's record of an opened (or attempted) trade for one
// token. All mutation goes through engine transitions; callers only ever
// see copies.
type Position struct {
	TokenAddress string
	Symbol       string
	State        State

	// Uncertain marks a position whose last buy/sell was submitted but
	// unconfirmed. No automated transition happens until Reconcile checks
	// the actual token balance.
	Uncertain bool

	EntryPrice        float64
	Quantity          float64
	RemainingQuantity float64
	BuyAmountSol      float64
	TargetMultiplier  float64
	SellPercentage    float64
	ProceedsSol       float64

	OpenedAt     time.Time
	ClosedAt     *time.Time
	LastPrice    float64
	LastSampleAt time.Time
	LastError    string
	SellFailures int

	// Generation increments on every transition; stale price samples
	// carrying an old generation are discarded.
	Generation uint64
}

// TargetPrice is the exit threshold for this position.
func (p *Position) TargetPrice() float64 {
	return p.EntryPrice * p.TargetMultiplier
}

func (p *Position) toRecord() *storage.PositionRecord {
	return &storage.PositionRecord{
		TokenAddress:      p.TokenAddress,
		Symbol:            p.Symbol,
		State:             string(p.State),
		Uncertain:         p.Uncertain,
		EntryPrice:        p.EntryPrice,
		Quantity:          p.Quantity,
		RemainingQuantity: p.RemainingQuantity,
		BuyAmountSol:      p.BuyAmountSol,
		TargetMultiplier:  p.TargetMultiplier,
		SellPercentage:    p.SellPercentage,
		ProceedsSol:       p.ProceedsSol,
		OpenedAt:          p.OpenedAt,
		ClosedAt:          p.ClosedAt,
		LastPrice:         p.LastPrice,
		LastError:         p.LastError,
		Generation:        p.Generation,
	}
}

func positionFromRecord(rec *storage.PositionRecord) *Position {
	return &Position{
		TokenAddress:      rec.TokenAddress,
		Symbol:            rec.Symbol,
		State:             State(rec.State),
		Uncertain:         rec.Uncertain,
		EntryPrice:        rec.EntryPrice,
		Quantity:          rec.Quantity,
		RemainingQuantity: rec.RemainingQuantity,
		BuyAmountSol:      rec.BuyAmountSol,
		TargetMultiplier:  rec.TargetMultiplier,
		SellPercentage:    rec.SellPercentage,
		ProceedsSol:       rec.ProceedsSol,
		OpenedAt:          rec.OpenedAt,
		ClosedAt:          rec.ClosedAt,
		LastPrice:         rec.LastPrice,
		LastError:         rec.LastError,
		Generation:        rec.Generation,
	}
}

// OpenPositionRef identifies an open position for the monitor loop. The
// generation travels with the price sample so transitions that happened
// while the fetch was in flight invalidate it.
type OpenPositionRef struct {
	TokenAddress string
	Generation   uint64
}
