package core

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01
	// Keyboard key pressed. Context usage: Key.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02
	// Keyboard key released. Context usage: Key.
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x03
	// Resized/resolution changed from the OS. Context usage: Width, Height.
	EVENT_CODE_RESIZED SystemEventCode = 0x08
	// Renderer toggles changed (config reload or key binding).
	EVENT_CODE_TOGGLES_CHANGED SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Key    KeyCode
	Width  uint32
	Height uint32
	Data   interface{}
}

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, ctx EventContext) bool

// EventBus dispatches events synchronously on the calling goroutine. It is
// owned by the engine and used from the main thread only.
type EventBus struct {
	registered map[SystemEventCode][]FnOnEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]FnOnEvent)}
}

func (b *EventBus) Register(code SystemEventCode, fn FnOnEvent) {
	b.registered[code] = append(b.registered[code], fn)
}

// Fire delivers the event to listeners in registration order until one of
// them reports it handled.
func (b *EventBus) Fire(code SystemEventCode, ctx EventContext) bool {
	for _, fn := range b.registered[code] {
		if fn(code, ctx) {
			return true
		}
	}
	return false
}
