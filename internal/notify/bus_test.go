package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	bus := NewBus()

	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.SessionChanged()

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventSessionChanged, ev.Kind)
			assert.False(t, ev.At.IsZero())
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublish_NeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overflow the buffer. The excess is dropped, not queued.
	for range subscriberBuffer + 5 {
		bus.OutboxChanged()
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestCancel_ClosesChannelOnce(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	bus.RecordsChanged()
}

func TestNotifierEventKinds(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.SessionChanged()
	bus.NavigateToLogin()
	bus.RecordsChanged()
	bus.OutboxChanged()

	want := []EventKind{EventSessionChanged, EventNavigateLogin, EventRecordsChanged, EventOutboxChanged}
	for _, kind := range want {
		select {
		case ev := <-ch:
			require.Equal(t, kind, ev.Kind)
		default:
			t.Fatalf("missing event %s", kind)
		}
	}
}
