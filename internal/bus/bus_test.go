package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
)

func tick(symbol string) event.Market {
	return event.Market{Base: event.NewBase(event.TypeMarket, 1, "", symbol)}
}

func TestPublishConsumeOrder(t *testing.T) {
	b := New(8)

	b.Publish(tick("BTC/USD"))
	b.Publish(tick("ETH/USD"))
	b.Publish(tick("SOL/USD"))

	first, err := b.Consume()
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", first.Meta().Symbol)

	second, err := b.Consume()
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", second.Meta().Symbol)

	third, err := b.Consume()
	require.NoError(t, err)
	assert.Equal(t, "SOL/USD", third.Meta().Symbol)
}

func TestConsumeEmpty(t *testing.T) {
	b := New(4)
	_, err := b.Consume()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestEvictionDropsOldest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Publish(tick(fmt.Sprintf("SYM-%d", i)))
	}

	assert.Equal(t, 3, b.Depth())
	assert.Equal(t, int64(2), b.Evicted())
	assert.Equal(t, int64(5), b.Published())

	ev, err := b.Consume()
	require.NoError(t, err)
	assert.Equal(t, "SYM-2", ev.Meta().Symbol)
}

func TestFanOutOrder(t *testing.T) {
	b := New(8)
	var calls []string

	b.Subscribe(event.TypeMarket, func(event.Event) { calls = append(calls, "first") })
	b.Subscribe(event.TypeMarket, func(event.Event) { calls = append(calls, "second") })
	b.Subscribe(event.TypeSignal, func(event.Event) { calls = append(calls, "signal") })

	b.Publish(tick("BTC/USD"))

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(8)
	var survived bool

	b.Subscribe(event.TypeMarket, func(event.Event) { panic("handler bug") })
	b.Subscribe(event.TypeMarket, func(event.Event) { survived = true })

	assert.NotPanics(t, func() { b.Publish(tick("BTC/USD")) })
	assert.True(t, survived, "later handlers must still run after a panic")
}

func TestReentrantPublishQueued(t *testing.T) {
	b := New(8)
	var seen []event.Type

	b.Subscribe(event.TypeMarket, func(ev event.Event) {
		seen = append(seen, ev.Meta().Type)
		// Re-entrant publish from inside a handler must be deferred, not
		// dispatched mid-fan-out.
		b.Publish(event.Signal{Base: event.NewBase(event.TypeSignal, 1, "s1", "BTC/USD")})
	})
	b.Subscribe(event.TypeMarket, func(ev event.Event) { seen = append(seen, ev.Meta().Type) })
	b.Subscribe(event.TypeSignal, func(ev event.Event) { seen = append(seen, ev.Meta().Type) })

	b.Publish(tick("BTC/USD"))

	assert.Equal(t, []event.Type{
		event.TypeMarket, event.TypeMarket, event.TypeSignal,
	}, seen)
}

func TestConsumeWaitBlocksUntilPublish(t *testing.T) {
	b := New(8)
	got := make(chan event.Event, 1)

	go func() {
		ev, err := b.ConsumeWait(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(tick("BTC/USD"))

	select {
	case ev := <-got:
		assert.Equal(t, "BTC/USD", ev.Meta().Symbol)
	case <-time.After(time.Second):
		t.Fatal("ConsumeWait never woke up")
	}
}

func TestConsumeWaitHonorsContext(t *testing.T) {
	b := New(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.ConsumeWait(ctx)
	assert.Error(t, err)
}
