// internal/monitor/monitor_test.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-trench-bot/internal/calls"
	"solana-trench-bot/internal/engine"
	"solana-trench-bot/internal/trading"
)

// fakeSource is a scriptable PositionSource.
type fakeSource struct {
	mu      sync.Mutex
	refs    []engine.OpenPositionRef
	samples map[string][]float64
}

func newFakeSource(addrs ...string) *fakeSource {
	s := &fakeSource{samples: make(map[string][]float64)}
	for _, a := range addrs {
		s.refs = append(s.refs, engine.OpenPositionRef{TokenAddress: a, Generation: 1})
	}
	return s
}

func (s *fakeSource) OpenPositions() []engine.OpenPositionRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.OpenPositionRef(nil), s.refs...)
}

func (s *fakeSource) OnPriceSample(ctx context.Context, addr string, price float64, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[addr] = append(s.samples[addr], price)
	return nil
}

func (s *fakeSource) sampleCount(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples[addr])
}

// blockingProvider serves prices per token; a token listed in block holds
// its fetch until released.
type blockingProvider struct {
	mu      sync.Mutex
	prices  map[string]float64
	errs    map[string]error
	block   map[string]chan struct{}
	fetches map[string]int
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		prices:  make(map[string]float64),
		errs:    make(map[string]error),
		block:   make(map[string]chan struct{}),
		fetches: make(map[string]int),
	}
}

func (p *blockingProvider) GetPrice(ctx context.Context, addr string) (float64, error) {
	p.mu.Lock()
	p.fetches[addr]++
	gate := p.block[addr]
	price := p.prices[addr]
	err := p.errs[addr]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (p *blockingProvider) fetchCount(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[addr]
}

func (p *blockingProvider) Buy(ctx context.Context, addr string, amountSol float64) (*trading.SwapResult, error) {
	return nil, errors.New("not implemented")
}

func (p *blockingProvider) Sell(ctx context.Context, addr string, quantity float64) (*trading.SellResult, error) {
	return nil, errors.New("not implemented")
}

func (p *blockingProvider) TokenBalance(ctx context.Context, addr string) (float64, error) {
	return 0, errors.New("not implemented")
}

func newTestCaller(t *testing.T) *calls.Caller {
	t.Helper()
	return calls.NewCaller(map[string]calls.Limits{
		calls.CategoryPrice: {PerSecond: 1000, Burst: 100, MaxWait: time.Second},
	}, calls.RetryPolicy{
		InitialDelay:   time.Millisecond,
		Multiplier:     1.5,
		MaxDelay:       10 * time.Millisecond,
		MaxAttempts:    1,
		AttemptTimeout: time.Second,
	}, zaptest.NewLogger(t))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLoopSamplesOpenPositions(t *testing.T) {
	src := newFakeSource("mint-1", "mint-2")
	p := newBlockingProvider()
	p.prices["mint-1"] = 1.5
	p.prices["mint-2"] = 2.5

	loop := NewLoop(src, newTestCaller(t), p, 10*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx)
	defer func() {
		cancel()
		loop.Stop()
	}()

	waitFor(t, time.Second, func() bool {
		return src.sampleCount("mint-1") >= 2 && src.sampleCount("mint-2") >= 2
	})

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, 1.5, src.samples["mint-1"][0])
	require.Equal(t, 2.5, src.samples["mint-2"][0])
}

func TestLoopSkipsBusyPositionInsteadOfQueueing(t *testing.T) {
	src := newFakeSource("mint-slow", "mint-fast")
	p := newBlockingProvider()
	gate := make(chan struct{})
	p.block["mint-slow"] = gate
	p.prices["mint-slow"] = 1
	p.prices["mint-fast"] = 1

	loop := NewLoop(src, newTestCaller(t), p, 10*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx)

	// Several ticks pass while the slow fetch hangs; the fast token keeps
	// sampling and the slow one is never fetched twice in parallel.
	waitFor(t, time.Second, func() bool { return src.sampleCount("mint-fast") >= 3 })
	require.Equal(t, 1, p.fetchCount("mint-slow"))
	require.Equal(t, 0, src.sampleCount("mint-slow"))

	close(gate)
	waitFor(t, time.Second, func() bool { return src.sampleCount("mint-slow") >= 1 })

	cancel()
	loop.Stop()
}

func TestLoopIsolatesFetchFailures(t *testing.T) {
	src := newFakeSource("mint-bad", "mint-good")
	p := newBlockingProvider()
	p.errs["mint-bad"] = trading.ErrQuoteUnavailable
	p.prices["mint-good"] = 3

	loop := NewLoop(src, newTestCaller(t), p, 10*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx)
	defer func() {
		cancel()
		loop.Stop()
	}()

	waitFor(t, time.Second, func() bool { return src.sampleCount("mint-good") >= 2 })
	require.Equal(t, 0, src.sampleCount("mint-bad"))
	require.GreaterOrEqual(t, p.fetchCount("mint-bad"), 1)
}

func TestStopWaitsForInflightSamples(t *testing.T) {
	src := newFakeSource("mint-1")
	p := newBlockingProvider()
	p.prices["mint-1"] = 1

	loop := NewLoop(src, newTestCaller(t), p, 5*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return src.sampleCount("mint-1") >= 1 })
	cancel()
	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
