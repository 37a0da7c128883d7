// internal/trading/provider.go
package trading

import "context"

// SwapResult describes a completed buy.
type SwapResult struct {
	Quantity   float64 // tokens received
	EntryPrice float64 // SOL per token actually paid
}

// SellResult describes a completed sell.
type SellResult struct {
	ProceedsSol float64
}

// Provider is the boundary to the price/quote/swap backend. A simulator and
// a real execution backend share this contract; the engine never assumes
// which one is wired in.
//
// Buy and Sell are not idempotent: a retried call after the provider
// confirmed submission could double-execute. Implementations report that
// case with an ExecError carrying Submitted=true.
type Provider interface {
	GetPrice(ctx context.Context, tokenAddress string) (float64, error)
	Buy(ctx context.Context, tokenAddress string, amountSol float64) (*SwapResult, error)
	Sell(ctx context.Context, tokenAddress string, quantity float64) (*SellResult, error)
	TokenBalance(ctx context.Context, tokenAddress string) (float64, error)
}
