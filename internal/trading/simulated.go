// internal/trading/simulated.go
package trading

import (
	"context"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// SimulatedProvider executes swaps in simulation: prices follow a random
// walk per token and balances are tracked in memory. It exists so the whole
// lifecycle can run without touching a real swap backend.
type SimulatedProvider struct {
	mu       sync.Mutex
	prices   map[string]float64
	balances map[string]float64
	rng      *rand.Rand
	drift    float64 // max relative move per price query
	logger   *zap.Logger
}

const simInitialPrice = 1.0

// NewSimulatedProvider creates a simulator. drift bounds the relative price
// move applied on every GetPrice call; seed makes runs reproducible.
func NewSimulatedProvider(drift float64, seed int64, logger *zap.Logger) *SimulatedProvider {
	if drift <= 0 {
		drift = 0.05
	}
	return &SimulatedProvider{
		prices:   make(map[string]float64),
		balances: make(map[string]float64),
		rng:      rand.New(rand.NewSource(seed)),
		drift:    drift,
		logger:   logger.Named("sim_provider"),
	}
}

func (p *SimulatedProvider) GetPrice(ctx context.Context, tokenAddress string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[tokenAddress]
	if !ok {
		price = simInitialPrice
	}
	// Walk the price; slightly upward-biased so targets are reachable.
	move := 1 + (p.rng.Float64()*2-0.9)*p.drift
	price *= move
	p.prices[tokenAddress] = price
	return price, nil
}

func (p *SimulatedProvider) Buy(ctx context.Context, tokenAddress string, amountSol float64) (*SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[tokenAddress]
	if !ok {
		price = simInitialPrice
		p.prices[tokenAddress] = price
	}

	quantity := amountSol / price
	p.balances[tokenAddress] += quantity

	p.logger.Info("Simulated buy executed",
		zap.String("token", tokenAddress),
		zap.Float64("amount_sol", amountSol),
		zap.Float64("quantity", quantity),
		zap.Float64("entry_price", price))

	return &SwapResult{Quantity: quantity, EntryPrice: price}, nil
}

func (p *SimulatedProvider) Sell(ctx context.Context, tokenAddress string, quantity float64) (*SellResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.balances[tokenAddress]
	if quantity > held {
		return nil, &ExecError{Op: "sell", TokenAddress: tokenAddress, Err: ErrSwapRejected}
	}

	price := p.prices[tokenAddress]
	if price == 0 {
		price = simInitialPrice
	}
	p.balances[tokenAddress] = held - quantity
	proceeds := quantity * price

	p.logger.Info("Simulated sell executed",
		zap.String("token", tokenAddress),
		zap.Float64("quantity", quantity),
		zap.Float64("proceeds_sol", proceeds))

	return &SellResult{ProceedsSol: proceeds}, nil
}

func (p *SimulatedProvider) TokenBalance(ctx context.Context, tokenAddress string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[tokenAddress], nil
}

// SetPrice pins the next observed price for a token. Used by tests and the
// command surface's dry-run tooling.
func (p *SimulatedProvider) SetPrice(tokenAddress string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[tokenAddress] = price
}
