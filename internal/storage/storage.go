// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a token address.
var ErrNotFound = errors.New("position not found")

// PositionRecord is the durable snapshot of a position, sufficient to
// resume open positions after a restart without re-opening them.
type PositionRecord struct {
	TokenAddress      string
	Symbol            string
	State             string
	Uncertain         bool
	EntryPrice        float64
	Quantity          float64
	RemainingQuantity float64
	BuyAmountSol      float64
	TargetMultiplier  float64
	SellPercentage    float64
	ProceedsSol       float64
	OpenedAt          time.Time
	ClosedAt          *time.Time
	LastPrice         float64
	LastError         string
	Generation        uint64
	UpdatedAt         time.Time
}

// Store persists one snapshot per token address.
type Store interface {
	SavePosition(ctx context.Context, rec *PositionRecord) error
	GetPosition(ctx context.Context, tokenAddress string) (*PositionRecord, error)
	ListOpen(ctx context.Context) ([]*PositionRecord, error)
	Close() error
}
