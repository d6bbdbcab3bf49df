package domain

import (
	"strings"
	"time"
)

// KeyCode is a virtual key code as reported by the input hook.
type KeyCode uint16

// Virtual codes of the modifier keys, left and right variants.
const (
	KeyShiftL   KeyCode = 0x002A
	KeyShiftR   KeyCode = 0x0036
	KeyControlL KeyCode = 0x001D
	KeyControlR KeyCode = 0x0E1D
	KeyAltL     KeyCode = 0x0038
	KeyAltR     KeyCode = 0x0E38
	KeyMetaL    KeyCode = 0x0E5B
	KeyMetaR    KeyCode = 0x0E5C
)

// IsModifier reports whether the key is one of the modifier keys.
func (k KeyCode) IsModifier() bool {
	switch k {
	case KeyShiftL, KeyShiftR, KeyControlL, KeyControlR, KeyAltL, KeyAltR, KeyMetaL, KeyMetaR:
		return true
	default:
		return false
	}
}

// Modifiers is a bit set of held modifier keys. Left and right variants collapse.
type Modifiers uint8

const (
	ModCtrl Modifiers = 1 << iota
	ModShift
	ModAlt
	ModMeta
)

// Has reports whether all bits of m2 are set in m.
func (m Modifiers) Has(m2 Modifiers) bool {
	return m&m2 == m2
}

// String renders the set in a stable Ctrl+Shift+Alt+Meta order.
func (m Modifiers) String() string {
	parts := make([]string, 0, 4)
	if m.Has(ModCtrl) {
		parts = append(parts, "Ctrl")
	}
	if m.Has(ModShift) {
		parts = append(parts, "Shift")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "Alt")
	}
	if m.Has(ModMeta) {
		parts = append(parts, "Meta")
	}
	return strings.Join(parts, "+")
}

// Combo is one modifiers + primary key combination.
type Combo struct {
	Modifiers Modifiers `json:"modifiers"`
	Key       KeyCode   `json:"key"`
}

// Valid reports whether the combination has a non-modifier primary key.
func (c Combo) Valid() bool {
	return c.Key != 0 && !c.Key.IsModifier()
}

// MouseButton identifies a pointer button.
type MouseButton uint8

const (
	MouseButtonNone MouseButton = iota
	MouseButtonLeft
	MouseButtonRight
	MouseButtonMiddle
)

// InputEventKind discriminates CapturedInputEvent.
type InputEventKind string

const (
	InputTimeout   InputEventKind = "timeout"
	InputKeyDown   InputEventKind = "key_down"
	InputKeyUp     InputEventKind = "key_up"
	InputMouseMove InputEventKind = "mouse_move"
	InputMouseDown InputEventKind = "mouse_down"
	InputMouseUp   InputEventKind = "mouse_up"
)

// CapturedInputEvent is one recorded input occurrence. Only the fields of its
// Kind are meaningful: Delay for timeouts, Key for key events, X/Y/Button for
// mouse events.
type CapturedInputEvent struct {
	Kind   InputEventKind `json:"kind"`
	Delay  time.Duration  `json:"delay,omitempty"`
	Key    KeyCode        `json:"key,omitempty"`
	X      int            `json:"x,omitempty"`
	Y      int            `json:"y,omitempty"`
	Button MouseButton    `json:"button,omitempty"`
}

// Macro is a named, stored recording.
type Macro struct {
	Name       string               `json:"name"`
	Events     []CapturedInputEvent `json:"events"`
	RecordedAt time.Time            `json:"recordedAt"`
}

// StoreKey keys macros by name.
func (m Macro) StoreKey() string {
	return m.Name
}

// Duration sums the timeouts of the recording.
func (m Macro) Duration() time.Duration {
	var total time.Duration
	for _, ev := range m.Events {
		if ev.Kind == InputTimeout {
			total += ev.Delay
		}
	}
	return total
}
