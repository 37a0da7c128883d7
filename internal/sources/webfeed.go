// internal/sources/webfeed.go
package sources

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-trench-bot/internal/types"
)

const (
	feedHandshakeTimeout = 10 * time.Second
	feedReadTimeout      = 90 * time.Second
	feedPingInterval     = 30 * time.Second
	feedMaxReconnectWait = time.Minute
)

// feedFrame is one message on the detection feed.
type feedFrame struct {
	TokenAddress string          `json:"token_address"`
	Symbol       string          `json:"symbol"`
	DetectedAt   time.Time       `json:"detected_at"`
	Metrics      json.RawMessage `json:"metrics,omitempty"`
}

// WebFeed is the web-watcher source: a websocket subscription to a token
// detection stream. The connection is re-established with exponential
// backoff; frames that fail to parse are logged and skipped.
type WebFeed struct {
	url    string
	sink   Sink
	logger *zap.Logger
}

// NewWebFeed creates a feed subscriber for the given websocket URL.
func NewWebFeed(url string, sink Sink, logger *zap.Logger) *WebFeed {
	return &WebFeed{
		url:    url,
		sink:   sink,
		logger: logger.Named("webfeed"),
	}
}

func (f *WebFeed) Name() string { return string(types.SourceWebWatcher) }

// Run connects and reads frames until ctx is cancelled.
func (f *WebFeed) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = feedMaxReconnectWait

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := f.dial(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			f.logger.Warn("Feed connect failed, retrying",
				zap.String("url", f.url),
				zap.Duration("wait", wait),
				zap.Error(err))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		bo.Reset()
		f.logger.Info("Detection feed connected", zap.String("url", f.url))

		err = f.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("Feed connection lost, reconnecting", zap.Error(err))
	}
}

func (f *WebFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: feedHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// readLoop pumps frames into the sink until the connection breaks. A ping
// ticker keeps the read deadline moving on quiet feeds.
func (f *WebFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil,
					time.Now().Add(feedHandshakeTimeout)); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		f.handleFrame(msg)
	}
}

func (f *WebFeed) handleFrame(msg []byte) {
	var frame feedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		f.logger.Warn("Malformed feed frame", zap.Error(err))
		return
	}
	if frame.TokenAddress == "" {
		return
	}

	firstSeen := frame.DetectedAt
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}

	isNew := f.sink.Submit(types.TokenDetection{
		TokenAddress: frame.TokenAddress,
		Symbol:       frame.Symbol,
		Source:       types.SourceWebWatcher,
		FirstSeenAt:  firstSeen,
		RawMetrics:   frame.Metrics,
	})
	if isNew {
		f.logger.Debug("Feed detection",
			zap.String("token", frame.TokenAddress),
			zap.String("symbol", frame.Symbol))
	}
}
