package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDelivery(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe()

	bus.Publish(Event{Kind: PositionOpened, Token: "tok", Reason: "momentum"})

	select {
	case e := <-ch:
		assert.Equal(t, PositionOpened, e.Kind)
		assert.Equal(t, "tok", e.Token)
		assert.False(t, e.At.IsZero(), "publish stamps the event time")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(4)
	// Must not block or panic.
	bus.Publish(Event{Kind: SwapFailed})
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(1)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(Event{Kind: PartialExit, Token: "tok"})
			// Keep the fast subscriber drained so only slow fills up.
			<-fast
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The slow subscriber kept at most its buffer worth of events.
	require.LessOrEqual(t, len(slow), 1)
}
