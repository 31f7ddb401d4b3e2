// internal/eventbus/eventbus_test.go
package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupBus(t *testing.T, bufferSize int) *Bus {
	t.Helper()
	bus := New(zaptest.NewLogger(t), bufferSize)
	t.Cleanup(bus.Close)
	return bus
}

func TestPublishSubscribeHappyPath(t *testing.T) {
	bus := setupBus(t, 10)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe("agent.act.after")
	defer unsubscribe()

	err := bus.Publish(ctx, Event{Type: "agent.act.after", Payload: map[string]interface{}{"success": true}})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "agent.act.after", ev.Type)
		assert.Equal(t, true, ev.Payload["success"])
		assert.NotEmpty(t, ev.ID, "the bus enriches events with an ID")
		assert.False(t, ev.Timestamp.IsZero())
		bus.Ack(ev)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func TestSubscriberFiltering(t *testing.T) {
	bus := setupBus(t, 10)
	ctx := context.Background()

	actCh, unsubAct := bus.Subscribe("agent.act.before")
	defer unsubAct()
	runCh, unsubRun := bus.Subscribe("agent.run.before")
	defer unsubRun()

	require.NoError(t, bus.Publish(ctx, Event{Type: "agent.act.before"}))

	select {
	case ev := <-actCh:
		bus.Ack(ev)
	case <-time.After(time.Second):
		t.Fatal("matching subscriber never received the event")
	}
	select {
	case ev := <-runCh:
		t.Fatalf("non-matching subscriber received %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCatchAllSubscription(t *testing.T) {
	bus := setupBus(t, 10)
	ctx := context.Background()

	allCh, unsub := bus.Subscribe()
	defer unsub()

	for _, typ := range []string{"agent.run.before", "agent.act.before", "agent.extract.after"} {
		require.NoError(t, bus.Publish(ctx, Event{Type: typ}))
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-allCh:
			bus.Ack(ev)
		case <-time.After(time.Second):
			t.Fatalf("catch-all missed event %d", i)
		}
	}
}

func TestPublishWithNoSubscribersIsCheap(t *testing.T) {
	bus := setupBus(t, 10)
	require.NoError(t, bus.Publish(context.Background(), Event{Type: "agent.act.before"}))
}

func TestPublishBlocksUntilContextCancelled(t *testing.T) {
	bus := setupBus(t, 1)

	ch, unsubscribe := bus.Subscribe("tick")
	defer unsubscribe()

	// Fill the buffer.
	require.NoError(t, bus.Publish(context.Background(), Event{Type: "tick"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, Event{Type: "tick"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Drain and ack the one delivered event so Close does not wait forever.
	ev := <-ch
	bus.Ack(ev)
}

func TestTryPublishDropsOnFullBuffer(t *testing.T) {
	bus := setupBus(t, 1)

	ch, unsubscribe := bus.Subscribe("tick")
	defer unsubscribe()

	assert.True(t, bus.TryPublish(Event{Type: "tick"}))
	assert.False(t, bus.TryPublish(Event{Type: "tick"}), "full buffer drops instead of blocking")

	<-ch
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := New(zaptest.NewLogger(t), 10)
	bus.Close()

	err := bus.Publish(context.Background(), Event{Type: "tick"})
	require.Error(t, err)
	assert.False(t, bus.TryPublish(Event{Type: "tick"}))

	// Close is idempotent.
	bus.Close()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := setupBus(t, 10)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe("tick")
	unsubscribe()

	// The channel is closed on unsubscribe.
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, bus.Publish(ctx, Event{Type: "tick"}))
}

func TestConcurrentPublishers(t *testing.T) {
	bus := setupBus(t, 64)
	ctx := context.Background()

	ch, unsubscribe := bus.Subscribe("tick")
	defer unsubscribe()

	const publishers, each = 8, 16
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = bus.Publish(ctx, Event{Type: "tick"})
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for received < publishers*each {
			select {
			case ev := <-ch:
				bus.Ack(ev)
				received++
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, publishers*each, received)
}

func TestNotifierEmitNeverBlocks(t *testing.T) {
	bus := setupBus(t, 1)
	notifier := NewNotifier(bus, zaptest.NewLogger(t))

	ch, unsubscribe := bus.Subscribe("agent.act.before")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more events than buffer room; Emit must drop, not block.
		for i := 0; i < 100; i++ {
			notifier.Emit("agent.act.before", map[string]interface{}{"i": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	<-ch
}
