// internal/sources/source.go
package sources

import (
	"context"
	"time"

	"solana-trench-bot/internal/types"
)

// Sink receives detections from a source. The deduplicator satisfies it.
type Sink interface {
	Submit(det types.TokenDetection) bool
}

// Source is a running signal source. Run blocks until ctx is cancelled and
// returns nil on clean shutdown.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// PushSource is the group-watcher boundary. Whatever ingests the chat
// protocol calls Announce; session handling stays on the far side of this
// interface.
type PushSource struct {
	sink Sink
}

// NewPushSource creates a source that forwards announced tokens to sink.
func NewPushSource(sink Sink) *PushSource {
	return &PushSource{sink: sink}
}

func (s *PushSource) Name() string { return string(types.SourceGroupWatcher) }

// Run blocks until ctx is cancelled. The source itself has no background
// work; detections arrive through Announce.
func (s *PushSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Announce submits one observed token. Returns whether the detection was
// new to the deduplicator.
func (s *PushSource) Announce(tokenAddress, symbol string, rawMetrics []byte) bool {
	return s.sink.Submit(types.TokenDetection{
		TokenAddress: tokenAddress,
		Symbol:       symbol,
		Source:       types.SourceGroupWatcher,
		FirstSeenAt:  time.Now(),
		RawMetrics:   rawMetrics,
	})
}
