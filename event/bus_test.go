package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusExactTopicDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("activation:progress:act-1")
	defer sub.Cancel()

	b.Publish("activation:progress:act-1", Progress{ActivationIDValue: "act-1", ProgressPct: 15}, false)
	b.Publish("activation:progress:act-2", Progress{ActivationIDValue: "act-2", ProgressPct: 50}, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := sub.Next(ctx)
	require.True(t, ok)
	p := msg.Payload.(Progress)
	require.Equal(t, "act-1", p.ActivationIDValue)
}

func TestBusWildcardFanOut(t *testing.T) {
	b := NewBus()
	exact := b.Subscribe("activation:progress:act-1")
	wild := b.Subscribe("activation:progress:*")
	defer exact.Cancel()
	defer wild.Cancel()

	b.Publish("activation:progress:act-1", Progress{ActivationIDValue: "act-1"}, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok := exact.Next(ctx)
	require.True(t, ok)
	_, ok = wild.Next(ctx)
	require.True(t, ok)
}

func TestBusOrderingPerSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("activation:progress:act-1")
	defer sub.Cancel()

	for _, pct := range []int{15, 25, 40, 60} {
		b.Publish("activation:progress:act-1", Progress{ActivationIDValue: "act-1", ProgressPct: pct}, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var seen []int
	for i := 0; i < 4; i++ {
		msg, ok := sub.Next(ctx)
		require.True(t, ok)
		seen = append(seen, msg.Payload.(Progress).ProgressPct)
	}
	require.Equal(t, []int{15, 25, 40, 60}, seen)
}

func TestBusDropsOldestNonTerminalOnOverflow(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("activation:progress:act-1")
	sub.bufSize = 2
	defer sub.Cancel()

	b.Publish("activation:progress:act-1", Progress{ProgressPct: 1}, false)
	b.Publish("activation:progress:act-1", Progress{ProgressPct: 2}, false)
	b.Publish("activation:progress:act-1", Progress{ProgressPct: 3}, false)

	require.Equal(t, uint64(1), sub.DroppedCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, 2, msg.Payload.(Progress).ProgressPct)
}

func TestBusNeverDropsTerminalEvent(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("activation:complete:act-1")
	sub.bufSize = 1
	defer sub.Cancel()

	b.PublishActivation(Complete{ActivationIDValue: "act-1", ModelID: 1})
	b.Publish("activation:complete:act-1", Complete{ActivationIDValue: "act-1-second"}, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, ok := sub.Next(ctx)
	require.True(t, ok)
	require.True(t, first.terminal)
	second, ok := sub.Next(ctx)
	require.True(t, ok)
	require.True(t, second.terminal)
}

func TestBusPublishActivationDerivesTopicAndTerminal(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("activation:error:act-9")
	defer sub.Cancel()

	b.PublishActivation(Error{ActivationIDValue: "act-9", ErrorMessage: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "activation:error:act-9", msg.Topic)
	require.True(t, msg.Payload.(Error).ErrorMessage == "stuck")
}

func TestBusCancelDiscardsBuffer(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("activation:progress:act-1")
	b.Publish("activation:progress:act-1", Progress{ProgressPct: 1}, false)
	sub.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := sub.Next(ctx)
	require.False(t, ok)
}

func TestRegistryOnEmit(t *testing.T) {
	type fooEvent struct{ N int }
	var got int
	cancel := On(func(e fooEvent) { got = e.N })
	defer cancel()

	Emit(fooEvent{N: 7})
	require.Equal(t, 7, got)
}

func TestRegistryCancelStopsDelivery(t *testing.T) {
	type barEvent struct{ N int }
	var calls int
	cancel := On(func(e barEvent) { calls++ })
	cancel()
	Emit(barEvent{N: 1})
	require.Equal(t, 0, calls)
}
