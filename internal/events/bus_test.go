package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTrade, 1)
	defer unsub()

	bus.Publish(EventTrade, "t1", "BTC-USD", "payload")

	env := <-ch
	assert.Equal(t, EventTrade, env.Type)
	assert.Equal(t, "t1", env.TenantID)
	assert.Equal(t, "BTC-USD", env.Symbol)
	assert.Equal(t, "payload", env.Data)
	assert.False(t, env.Time.IsZero())
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventSignal, 1)
	defer unsub()

	bus.Publish(EventSignal, "t1", "", 1)
	bus.Publish(EventSignal, "t1", "", 2)

	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).Data)
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventSnapshot, 1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(EventSnapshot, "t1", "", nil)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(EventTrade, "t1", "", nil) })
}
