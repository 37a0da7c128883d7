// internal/events/bus_test.go
package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openedEvent(addr string) PositionOpenedEvent {
	return PositionOpenedEvent{
		BaseEvent:    BaseEvent{EventType: PositionOpened, EventTime: time.Now()},
		TokenAddress: addr,
		Symbol:       "TEST",
		EntryPrice:   1,
		Quantity:     0.1,
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	received := make(chan Event, 1)
	bus.SubscribeFunc(PositionOpened, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})

	require.NoError(t, bus.Publish(openedEvent("mint-1")))

	select {
	case e := <-received:
		opened, ok := e.(PositionOpenedEvent)
		require.True(t, ok)
		require.Equal(t, "mint-1", opened.TokenAddress)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriberOnlyReceivesItsEventType(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	received := make(chan Event, 2)
	bus.SubscribeFunc(PositionClosed, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})

	require.NoError(t, bus.Publish(openedEvent("mint-1")))

	select {
	case e := <-received:
		t.Fatalf("unexpected delivery: %v", e.Type())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	received := make(chan Event, 2)
	sub := bus.SubscribeFunc(PositionOpened, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(openedEvent("mint-1")))

	select {
	case <-received:
		t.Fatal("delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishSyncReportsHandlerErrors(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer bus.Shutdown(context.Background())

	bus.SubscribeFunc(PositionFailed, func(ctx context.Context, e Event) error {
		return errors.New("handler broke")
	})

	err := bus.PublishSync(context.Background(), PositionFailedEvent{
		BaseEvent:    BaseEvent{EventType: PositionFailed, EventTime: time.Now()},
		TokenAddress: "mint-1",
	})
	require.Error(t, err)
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)

	received := make(chan Event, 16)
	bus.SubscribeFunc(PositionOpened, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(openedEvent("mint-1")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))

	require.GreaterOrEqual(t, len(received), 5)
}

func TestPublishAfterShutdownFails(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	require.NoError(t, bus.Shutdown(context.Background()))
	require.Error(t, bus.Publish(openedEvent("mint-1")))
}
