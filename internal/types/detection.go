// internal/types/detection.go
package types

import (
	"encoding/json"
	"time"
)

// SourceID identifies which watcher produced a detection.
type SourceID string

const (
	SourceGroupWatcher SourceID = "group_watcher"
	SourceWebWatcher   SourceID = "web_watcher"
)

// Priority orders sources for deterministic tie-breaking: lower is better.
func (s SourceID) Priority() int {
	switch s {
	case SourceGroupWatcher:
		return 0
	case SourceWebWatcher:
		return 1
	default:
		return 2
	}
}

// TokenDetection is an immutable event asserting that a token was observed
// by one of the signal sources.
type TokenDetection struct {
	TokenAddress string          `json:"token_address"`
	Symbol       string          `json:"symbol"`
	Source       SourceID        `json:"source"`
	FirstSeenAt  time.Time       `json:"first_seen_at"`
	RawMetrics   json.RawMessage `json:"raw_metrics,omitempty"`
}
