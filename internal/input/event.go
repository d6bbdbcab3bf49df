package input

import (
	"context"
	"errors"
	"time"

	"keypilot/internal/domain"
)

// EventKind identifies a normalized OS input event.
type EventKind uint8

const (
	EventKeyDown EventKind = iota + 1
	EventKeyUp
	EventMouseDown
	EventMouseUp
	EventMouseMove
)

// Event is one OS input notification after translation from the hook.
// Modifiers carries the mask the hook reported alongside the event.
type Event struct {
	Kind      EventKind
	Key       domain.KeyCode
	Modifiers domain.Modifiers
	Button    domain.MouseButton
	X         int
	Y         int
	When      time.Time
}

// Source installs an OS-wide subscription and streams its events until ctx
// ends. The returned channel is closed when the subscription stops.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

// ModifierSampler reads the modifier state to use when matching ev.
type ModifierSampler interface {
	Sample(ev Event) domain.Modifiers
}

// ModifierSamplerFunc adapts a function to ModifierSampler.
type ModifierSamplerFunc func(ev Event) domain.Modifiers

// Sample calls f.
func (f ModifierSamplerFunc) Sample(ev Event) domain.Modifiers {
	return f(ev)
}

// EventModifiers uses the mask the hook reported with the event.
var EventModifiers ModifierSampler = ModifierSamplerFunc(func(ev Event) domain.Modifiers {
	return ev.Modifiers
})

var (
	ErrAlreadyCapturing = errors.New("a hotkey capture is already pending")
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrHookUnavailable  = errors.New("input hook unavailable")
)
