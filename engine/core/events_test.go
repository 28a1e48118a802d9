package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusStopsAtFirstHandler(t *testing.T) {
	bus := NewEventBus()
	var calls []int
	bus.Register(EVENT_CODE_KEY_PRESSED, func(SystemEventCode, EventContext) bool {
		calls = append(calls, 1)
		return true
	})
	bus.Register(EVENT_CODE_KEY_PRESSED, func(SystemEventCode, EventContext) bool {
		calls = append(calls, 2)
		return false
	})

	assert.True(t, bus.Fire(EVENT_CODE_KEY_PRESSED, EventContext{Key: KEY_W}))
	assert.Equal(t, []int{1}, calls)
	assert.False(t, bus.Fire(EVENT_CODE_RESIZED, EventContext{}))
}

func TestInputKeyEdges(t *testing.T) {
	bus := NewEventBus()
	var pressed []KeyCode
	bus.Register(EVENT_CODE_KEY_PRESSED, func(_ SystemEventCode, ctx EventContext) bool {
		pressed = append(pressed, ctx.Key)
		return true
	})
	in := NewInputState(bus)

	in.ProcessKey(KEY_F1, true)
	in.ProcessKey(KEY_F1, true)
	assert.True(t, in.KeyPressed(KEY_F1))
	assert.Equal(t, []KeyCode{KEY_F1}, pressed)

	in.Update()
	assert.True(t, in.IsKeyDown(KEY_F1))
	assert.False(t, in.KeyPressed(KEY_F1))

	in.ProcessMouseMove(10, 4)
	dx, dy := in.MouseDelta()
	assert.Equal(t, 10.0, dx)
	assert.Equal(t, 4.0, dy)
}
