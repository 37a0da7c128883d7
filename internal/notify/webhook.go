// internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-trench-bot/internal/calls"
	"solana-trench-bot/internal/events"
)

// Notification is the JSON body posted to the webhook.
type Notification struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// WebhookNotifier turns lifecycle events into webhook POSTs. Delivery is
// fire and forget: failures are logged, never propagated to the engine.
type WebhookNotifier struct {
	url    string
	caller *calls.Caller
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url. An empty url
// disables delivery; subscriptions then log at debug level only.
func NewWebhookNotifier(url string, caller *calls.Caller, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		caller: caller,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("notify"),
	}
}

// SubscribeAll registers the notifier for every event type worth telling
// the operator about.
func (n *WebhookNotifier) SubscribeAll(bus *events.Bus) {
	for _, et := range []events.EventType{
		events.TokenDetected,
		events.PositionOpened,
		events.PositionFailed,
		events.TargetReached,
		events.PositionClosed,
		events.SellRetryExceeded,
		events.PositionUncertain,
		events.ConfigUpdated,
	} {
		bus.Subscribe(et, n)
	}
}

// Handle formats and posts one event.
func (n *WebhookNotifier) Handle(ctx context.Context, event events.Event) error {
	msg := describe(event)
	if n.url == "" {
		n.logger.Debug("Notification (no webhook configured)",
			zap.String("event", string(event.Type())),
			zap.String("message", msg))
		return nil
	}

	note := Notification{
		ID:        uuid.New().String(),
		Event:     string(event.Type()),
		Message:   msg,
		Timestamp: event.Timestamp(),
		Payload:   event,
	}

	if err := n.post(ctx, note); err != nil {
		n.logger.Warn("Webhook delivery failed",
			zap.String("event", note.Event),
			zap.Error(err))
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return calls.Do(ctx, n.caller, calls.CategoryNotify, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// describe renders a short human message per event type.
func describe(event events.Event) string {
	switch e := event.(type) {
	case events.TokenDetectedEvent:
		return fmt.Sprintf("Detected %s (%s) via %s", e.Symbol, e.TokenAddress, e.Source)
	case events.PositionOpenedEvent:
		return fmt.Sprintf("Opened %s: %.6f tokens at %.8f (spent %.4f SOL)",
			e.Symbol, e.Quantity, e.EntryPrice, e.BuyAmountSol)
	case events.PositionFailedEvent:
		return fmt.Sprintf("Open failed for %s: %v", e.TokenAddress, e.Err)
	case events.TargetReachedEvent:
		return fmt.Sprintf("Target hit for %s: %.8f -> %.8f (x%.2f)",
			e.TokenAddress, e.EntryPrice, e.CurrentPrice, e.Multiplier)
	case events.PositionClosedEvent:
		return fmt.Sprintf("Closed %s: sold %.6f (%.1f%%), proceeds %.4f SOL",
			e.TokenAddress, e.QuantitySold, e.SellPercentage, e.ProceedsSol)
	case events.SellRetryExceededEvent:
		return fmt.Sprintf("Sell failed for %s after %d attempts, back to monitoring",
			e.TokenAddress, e.ConsecutiveFailures)
	case events.PositionUncertainEvent:
		return fmt.Sprintf("Uncertain %s for %s, reconcile required", e.Operation, e.TokenAddress)
	case events.ConfigUpdatedEvent:
		return fmt.Sprintf("Setting %s changed to %s", e.Field, e.NewValue)
	}
	return string(event.Type())
}
