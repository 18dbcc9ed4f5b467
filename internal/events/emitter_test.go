package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	e := NewEmitter[int]()
	var a, b []int
	e.Subscribe(func(v int) { a = append(a, v) })
	e.Subscribe(func(v int) { b = append(b, v) })

	e.Emit(1)
	e.Emit(2)

	require.Equal(t, []int{1, 2}, a)
	require.Equal(t, []int{1, 2}, b)
}

func TestEmitterUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	e := NewEmitter[string]()
	var got []string
	cancel := e.Subscribe(func(v string) { got = append(got, v) })

	e.Emit("one")
	cancel()
	e.Emit("two")

	require.Equal(t, []string{"one"}, got)
}

func TestReplayEmitterDeliversLastValueToLateSubscriber(t *testing.T) {
	t.Parallel()

	e := NewReplayEmitter[int]()
	e.Emit(41)
	e.Emit(42)

	var got []int
	e.Subscribe(func(v int) { got = append(got, v) })

	require.Equal(t, []int{42}, got, "late subscriber must see the most recent value")
}

func TestReplayEmitterWithoutPriorEmitIsSilentOnSubscribe(t *testing.T) {
	t.Parallel()

	e := NewReplayEmitter[int]()
	var got []int
	e.Subscribe(func(v int) { got = append(got, v) })

	require.Empty(t, got)
}

func TestEmitterResetDropsReplayValueAndSubscribers(t *testing.T) {
	t.Parallel()

	e := NewReplayEmitter[int]()
	var before []int
	e.Subscribe(func(v int) { before = append(before, v) })
	e.Emit(7)
	e.Reset()

	e.Emit(8)
	require.Equal(t, []int{7}, before, "subscriber from before Reset must not fire again")

	var after []int
	e.Subscribe(func(v int) { after = append(after, v) })
	require.Empty(t, after, "replay value must not survive Reset")
}
