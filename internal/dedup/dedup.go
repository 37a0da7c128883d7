// internal/dedup/dedup.go
package dedup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-trench-bot/internal/types"
)

// Deduplicator collapses detections of the same token arriving from
// multiple sources into a single forwarded "first-seen" event.
//
// Same-address detections are coalesced for a short delay before being
// forwarded, so the winner is chosen deterministically: earliest
// FirstSeenAt, ties broken by source priority. Seen addresses are held for
// a bounded TTL window and then forgotten, keeping memory bounded.
type Deduplicator struct {
	mu      sync.Mutex
	window  time.Duration
	delay   time.Duration
	seen    map[string]time.Time // address -> expiry
	pending map[string]*pendingDetection

	out    chan types.TokenDetection
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

type pendingDetection struct {
	det     types.TokenDetection
	flushAt time.Time
}

// New creates a deduplicator and starts its flush loop. window bounds how
// long an address stays deduplicated; delay is the coalescing period before
// a detection is forwarded.
func New(window, delay time.Duration, buffer int, logger *zap.Logger) *Deduplicator {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Deduplicator{
		window:  window,
		delay:   delay,
		seen:    make(map[string]time.Time),
		pending: make(map[string]*pendingDetection),
		out:     make(chan types.TokenDetection, buffer),
		cancel:  cancel,
		logger:  logger.Named("dedup"),
	}
	d.wg.Add(1)
	go d.flushLoop(ctx)
	return d
}

// Submit registers a detection. It returns true when the address was not
// already seen or pending within the window; at most one detection per
// address per window is forwarded downstream.
func (d *Deduplicator) Submit(det types.TokenDetection) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.seen[det.TokenAddress]; ok {
		if now.Before(expiry) {
			d.logger.Debug("Duplicate detection dropped",
				zap.String("token", det.TokenAddress),
				zap.String("source", string(det.Source)))
			return false
		}
		delete(d.seen, det.TokenAddress)
	}

	if p, ok := d.pending[det.TokenAddress]; ok {
		if betterDetection(det, p.det) {
			p.det = det
		}
		return false
	}

	d.pending[det.TokenAddress] = &pendingDetection{
		det:     det,
		flushAt: now.Add(d.delay),
	}
	return true
}

// betterDetection reports whether a should replace b as the forwarded
// event: earlier FirstSeenAt wins, ties go to the higher-priority source.
func betterDetection(a, b types.TokenDetection) bool {
	if a.FirstSeenAt.Before(b.FirstSeenAt) {
		return true
	}
	if a.FirstSeenAt.Equal(b.FirstSeenAt) {
		return a.Source.Priority() < b.Source.Priority()
	}
	return false
}

// Out is the channel of forwarded detections; closed by Close.
func (d *Deduplicator) Out() <-chan types.TokenDetection {
	return d.out
}

func (d *Deduplicator) flushLoop(ctx context.Context) {
	defer d.wg.Done()

	tick := d.delay / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.flush(time.Time{}) // forward everything still pending
			return
		case now := <-ticker.C:
			d.flush(now)
		}
	}
}

// flush forwards pending detections that have finished coalescing and
// evicts expired seen entries. A zero now flushes unconditionally.
func (d *Deduplicator) flush(now time.Time) {
	d.mu.Lock()
	var ready []types.TokenDetection
	for addr, p := range d.pending {
		if !now.IsZero() && now.Before(p.flushAt) {
			continue
		}
		ready = append(ready, p.det)
		delete(d.pending, addr)
		d.seen[addr] = time.Now().Add(d.window)
	}
	if !now.IsZero() {
		for addr, expiry := range d.seen {
			if now.After(expiry) {
				delete(d.seen, addr)
			}
		}
	}
	d.mu.Unlock()

	for _, det := range ready {
		select {
		case d.out <- det:
			d.logger.Debug("Detection forwarded",
				zap.String("token", det.TokenAddress),
				zap.String("source", string(det.Source)))
		default:
			d.logger.Warn("Detection channel full, dropping event",
				zap.String("token", det.TokenAddress))
		}
	}
}

// Close stops the flush loop, forwards anything still pending and closes
// the out channel.
func (d *Deduplicator) Close() {
	d.cancel()
	d.wg.Wait()
	close(d.out)
}
