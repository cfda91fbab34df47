package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/channels/gochannel"
	"github.com/phalanx-soar/phalanx/pkg/eventbus"
	"github.com/phalanx-soar/phalanx/pkg/events"
)

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.RunStarted, 1)

	err = bus.Handle(events.RunStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.RunStarted)
		require.True(t, ok)
		received <- started

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	err = bus.Publish(ctx, "case-1", events.RunStarted{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.RunStartedEvent,
			Timestamp: time.Now().UTC(),
			CaseID:    "case-1",
		},
		RunID:      "run-1",
		PlaybookID: "phish-triage",
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "case-1", got.CaseID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.RunCancelled, 1)

	err = bus.Handle(events.RunCancelledEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RunCancelled)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// An event nobody handles must not wedge the stream.
	require.NoError(t, bus.Publish(ctx, "case-1", events.RunCompleted{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.RunCompletedEvent, CaseID: "case-1"},
		RunID:     "run-0",
	}))

	require.NoError(t, bus.Publish(ctx, "case-1", events.RunCancelled{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.RunCancelledEvent, CaseID: "case-1"},
		RunID:     "run-1",
	}))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
