package core

type Button uint16

const (
	BUTTON_LEFT Button = iota
	BUTTON_RIGHT
	BUTTON_MIDDLE
	BUTTON_MAX_BUTTONS
)

// Key code definitions, Win32 virtual-key values.
type KeyCode uint16

const (
	KEY_TAB    KeyCode = 0x09
	KEY_ENTER  KeyCode = 0x0D
	KEY_SHIFT  KeyCode = 0x10
	KEY_ESCAPE KeyCode = 0x1B
	KEY_SPACE  KeyCode = 0x20
	KEY_LEFT   KeyCode = 0x25
	KEY_UP     KeyCode = 0x26
	KEY_RIGHT  KeyCode = 0x27
	KEY_DOWN   KeyCode = 0x28

	KEY_A KeyCode = 0x41
	KEY_D KeyCode = 0x44
	KEY_E KeyCode = 0x45
	KEY_M KeyCode = 0x4D
	KEY_Q KeyCode = 0x51
	KEY_S KeyCode = 0x53
	KEY_W KeyCode = 0x57

	KEY_F1 KeyCode = 0x70
	KEY_F2 KeyCode = 0x71
	KEY_F3 KeyCode = 0x72
	KEY_F4 KeyCode = 0x73

	KEY_LSHIFT   KeyCode = 0xA0
	KEY_LCONTROL KeyCode = 0xA2

	KEYS_MAX_KEYS KeyCode = 0xFF
)

type KeyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

type MouseState struct {
	X       float64
	Y       float64
	Buttons [BUTTON_MAX_BUTTONS]bool
}

// InputState keeps the current and previous keyboard/mouse snapshots. The
// platform layer feeds it; Update is called once per frame after consumers
// have read it.
type InputState struct {
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
	MouseCurrent     MouseState
	MousePrevious    MouseState

	events *EventBus
}

func NewInputState(events *EventBus) *InputState {
	return &InputState{events: events}
}

func (s *InputState) Update() {
	s.KeyboardPrevious = s.KeyboardCurrent
	s.MousePrevious = s.MouseCurrent
}

func (s *InputState) IsKeyDown(key KeyCode) bool {
	return s.KeyboardCurrent.Keys[key]
}

func (s *InputState) WasKeyDown(key KeyCode) bool {
	return s.KeyboardPrevious.Keys[key]
}

// KeyPressed is true only on the frame the key went down.
func (s *InputState) KeyPressed(key KeyCode) bool {
	return s.IsKeyDown(key) && !s.WasKeyDown(key)
}

func (s *InputState) ProcessKey(key KeyCode, pressed bool) {
	if key >= KEYS_MAX_KEYS || s.KeyboardCurrent.Keys[key] == pressed {
		return
	}
	s.KeyboardCurrent.Keys[key] = pressed

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	if s.events != nil {
		s.events.Fire(code, EventContext{Key: key})
	}
}

func (s *InputState) IsButtonDown(button Button) bool {
	return s.MouseCurrent.Buttons[button]
}

func (s *InputState) ProcessButton(button Button, pressed bool) {
	if button >= BUTTON_MAX_BUTTONS {
		return
	}
	s.MouseCurrent.Buttons[button] = pressed
}

func (s *InputState) ProcessMouseMove(x, y float64) {
	s.MouseCurrent.X = x
	s.MouseCurrent.Y = y
}

// MouseDelta is the cursor movement since the previous Update.
func (s *InputState) MouseDelta() (float64, float64) {
	return s.MouseCurrent.X - s.MousePrevious.X, s.MouseCurrent.Y - s.MousePrevious.Y
}
